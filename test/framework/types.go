package framework

// TestingT is the subset of testing.TB the helpers need
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
	TempDir() string
	Cleanup(func())
}

// Zone is one zone file handed to a test daemon
type Zone struct {
	Origin string
	Body   string
}
