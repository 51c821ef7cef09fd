package log2

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// file:line of the statement just above the call
func formatCallerPrev() string {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		return "???:0: "
	}
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			file = file[i+1:]
			break
		}
	}
	return fmt.Sprintf("%s:%d: ", file, line-1)
}

func TestLog2(t *testing.T) {
	t.Parallel()

	type Case struct {
		name  string
		level Level
		fun   func(l *Log) string
	}
	cases := []Case{
		{"caller/debug", LDebug, func(l *Log) string {
			l.Debugf("frame drop len=%d", 13)
			return formatCallerPrev() + "debug: frame drop len=13\n"
		}},
		{"caller/info", LInfo, func(l *Log) string {
			l.Infof("session state=%s", "running")
			return formatCallerPrev() + "session state=running\n"
		}},
		{"caller/error", LError, func(l *Log) string {
			l.Errorf("bootstrap")
			return formatCallerPrev() + "error: bootstrap\n"
		}},
		{"filter/debug", LInfo, func(l *Log) string {
			l.Debugf("hidden")
			return ""
		}},
		{"printf/info", LInfo, func(l *Log) string {
			l.Printf("x=%d", 1)
			return formatCallerPrev() + "x=1\n"
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewWriter(&buf, c.level)
			l.SetFlags(log.Lshortfile)
			expect := c.fun(l)
			assert.Equal(t, expect, buf.String())
		})
	}
}

func TestErrorFunc(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, LError)
	ech := make(chan error, 1)
	l.SetErrorFunc(func(e error) { ech <- e })
	exact := fmt.Errorf("one particular issue")
	l.Error(exact)
	require.Len(t, ech, 1)
	assert.Equal(t, exact, <-ech)
}

func TestNil(t *testing.T) {
	t.Parallel()
	l := NewWriter(io.Discard, LAll)
	require.Nil(t, l)
	assert.False(t, l.Enabled(LError))
	l.SetLevel(LDebug)
	l.SetPrefix("x")
	l.Error(fmt.Errorf("ignored"))
	l.Debugf("ignored")
	assert.Nil(t, l.Clone(LDebug))
}

func TestSetLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, LError)
	l.SetFlags(0)
	l.Infof("a")
	l.SetLevel(LInfo)
	l.Infof("b")
	assert.Equal(t, "b\n", buf.String())
	assert.Equal(t, "debug", LDebug.String())
}
