package pipe

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestBase_TimeLogsAndObserves(t *testing.T) {
	var buf bytes.Buffer
	b := NewBase("sample_pipe", zerolog.New(&buf))

	if b.Name() != "sample_pipe" {
		t.Errorf("Name() = %q, want sample_pipe", b.Name())
	}

	before := testutil.CollectAndCount(runDuration)

	run := func() (err error) {
		defer b.Time("run")(&err)
		return nil
	}
	if err := run(); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{`"pipe":"sample_pipe"`, `"op":"run"`, "Execution time", `"level":"debug"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s: %s", want, out)
		}
	}

	if after := testutil.CollectAndCount(runDuration); after <= before {
		t.Errorf("histogram series count %d, want more than %d", after, before)
	}
}

func TestBase_TimeReportsError(t *testing.T) {
	var buf bytes.Buffer
	b := NewBase("failing_pipe", zerolog.New(&buf))

	run := func() (err error) {
		defer b.Time("run")(&err)
		return errors.New("boom")
	}
	if err := run(); err == nil {
		t.Fatal("want error")
	}

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "boom") {
		t.Errorf("error run not logged as warning: %s", out)
	}
}

func TestBase_ZeroValue(t *testing.T) {
	var b Base
	var err error
	b.Time("noop")(&err)
	b.Time("nil errp")(nil)
}
