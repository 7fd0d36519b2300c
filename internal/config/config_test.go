package config

import (
	"testing"
	"time"
)

func TestLoadDispatcherDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("MESSAGING_PROVIDER", "telegram")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("DISPATCH_RECIPIENT_DELAY", "500ms")
	t.Setenv("DISPATCH_TIMEZONE", "UTC")

	cfg := LoadDispatcher()
	if cfg.RecipientDelay != 500*time.Millisecond {
		t.Fatalf("unexpected delay %v", cfg.RecipientDelay)
	}
	if cfg.MaxConsecutiveErrors != 3 || cfg.Port != "8080" || !cfg.Autostart {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if _, err := cfg.Location(); err != nil {
		t.Fatalf("location: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  DispatcherConfig
		ok   bool
	}{
		{"postgres needs dsn", DispatcherConfig{StoreDriver: "postgres"}, false},
		{"unknown store", DispatcherConfig{StoreDriver: "mysql"}, false},
		{"twilio needs creds", DispatcherConfig{StoreDriver: "sqlite", MessagingProvider: "twilio"}, false},
		{"messaging disabled", DispatcherConfig{StoreDriver: "sqlite", MessagingProvider: "none"}, true},
		{"postgres ok", DispatcherConfig{StoreDriver: "postgres", DBDSN: "postgres://x", MessagingProvider: "twilio", TwilioAccountSID: "AC", TwilioAuthToken: "t"}, true},
	}
	for _, tc := range cases {
		if err := tc.cfg.Validate(); (err == nil) != tc.ok {
			t.Fatalf("%s: unexpected result %v", tc.name, err)
		}
	}
}

func TestLoadDispatcherPanicsOnInvalidEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("MESSAGING_PROVIDER", "none")
	t.Setenv("DISPATCH_MAX_CONSECUTIVE_ERRORS", "three")
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	LoadDispatcher()
}
