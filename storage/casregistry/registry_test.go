package casregistry

import (
	"flag"
	"strings"
	"testing"

	"xdao.co/drinkpoap/storage"
)

func TestRegister_Validation(t *testing.T) {
	open := func() (storage.CAS, func() error, error) { return nil, nil, nil }
	flags := func(*flag.FlagSet) {}

	cases := []struct {
		name string
		b    Backend
		want string
	}{
		{"missing name", Backend{RegisterFlags: flags, Open: open, Usage: UsageCLI}, "name is required"},
		{"missing flags", Backend{Name: "t-flags", Open: open, Usage: UsageCLI}, "missing RegisterFlags"},
		{"missing open", Backend{Name: "t-open", RegisterFlags: flags, Usage: UsageCLI}, "missing Open"},
		{"missing usage", Backend{Name: "t-usage", RegisterFlags: flags, Open: open}, "missing Usage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Register(tc.b)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Register: got %v want substring %q", err, tc.want)
			}
		})
	}
}

func TestOpen_UsageAndConfig(t *testing.T) {
	MustRegister(Backend{
		Name:          "t-daemon-only",
		Usage:         UsageDaemon,
		RegisterFlags: func(*flag.FlagSet) {},
		Open:          func() (storage.CAS, func() error, error) { return nil, nil, nil },
	})
	if _, _, err := Open("t-daemon-only", UsageCLI); err == nil {
		t.Fatalf("expected usage mismatch error")
	}
	if _, _, err := OpenWithConfig("t-daemon-only", UsageDaemon, nil); err == nil {
		t.Fatalf("expected error for backend without OpenWithConfig")
	}
	if _, _, err := Open("t-missing", UsageCLI); err == nil {
		t.Fatalf("expected unknown backend error")
	}
	if err := Register(Backend{
		Name:          "t-daemon-only",
		Usage:         UsageDaemon,
		RegisterFlags: func(*flag.FlagSet) {},
		Open:          func() (storage.CAS, func() error, error) { return nil, nil, nil },
	}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}

	for _, n := range Names(UsageCLI) {
		if n == "t-daemon-only" {
			t.Fatalf("daemon-only backend listed for CLI usage")
		}
	}
}
