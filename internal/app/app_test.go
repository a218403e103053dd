package app

import "testing"

func TestRunUnknownCommand(t *testing.T) {
	t.Parallel()

	if code := Run([]string{"frobnicate"}); code != 2 {
		t.Fatalf("expected exit code 2 for unknown command, got %d", code)
	}
}

func TestRunNoArgs(t *testing.T) {
	t.Parallel()

	if code := Run(nil); code != 2 {
		t.Fatalf("expected exit code 2 for missing command, got %d", code)
	}
}

func TestRunHelp(t *testing.T) {
	t.Parallel()

	if code := Run([]string{"help"}); code != 0 {
		t.Fatalf("expected exit code 0 for help, got %d", code)
	}
}
