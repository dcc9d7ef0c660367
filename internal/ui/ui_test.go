package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrinter_PlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.OK("installed %s", "pulp_coverage.py")
	p.Warn("skipping %s", "module pulp_rpm")
	p.Error("failed")
	p.Info("detail %d", 3)

	assert.Equal(t,
		"✓ installed pulp_coverage.py\n"+
			"! skipping module pulp_rpm\n"+
			"✗ failed\n"+
			"  detail 3\n",
		buf.String())
}
