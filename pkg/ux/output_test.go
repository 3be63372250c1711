// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconBullet} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}

// =============================================================================
// Personality Tests
// =============================================================================

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		in   string
		want PersonalityLevel
	}{
		{"machine", PersonalityMachine},
		{"PLAIN", PersonalityMachine},
		{" q ", PersonalityMachine},
		{"standard", PersonalityStandard},
		{"", PersonalityStandard},
		{"fancy", PersonalityStandard},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParsePersonalityLevel(tt.in), "input %q", tt.in)
	}
}

func TestDetectPersonality(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	t.Setenv("PMSLICE_OUTPUT", "")
	assert.Equal(t, PersonalityMachine, DetectPersonality(f), "regular files are not terminals")

	t.Setenv("PMSLICE_OUTPUT", "standard")
	assert.Equal(t, PersonalityStandard, DetectPersonality(f))
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_Machine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMachine)

	p.Title("ignored")
	p.Success("done")
	p.Warning("careful")
	p.Error("failed")
	p.KeyValue("run_id", "abc")
	p.Box("Config", "width=1")

	want := "OK: done\nWARN: careful\nERROR: failed\nrun_id=abc\nConfig: width=1\n"
	assert.Equal(t, want, buf.String())
}

func TestPrinter_MachineTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMachine)

	p.Table([]string{"dim", "mean"}, [][]string{{"0", "0.01"}, {"1", "-0.02"}})
	assert.Equal(t, "dim\tmean\n0\t0.01\n1\t-0.02\n", buf.String())
}

func TestPrinter_StandardTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityStandard)

	p.Table([]string{"dim", "mean"}, [][]string{{"0", "0.01"}})
	out := buf.String()
	for _, s := range []string{"dim", "mean", "0.01", "╭", "╯"} {
		assert.Contains(t, out, s)
	}
}

func TestPrinter_Standard(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityStandard)

	p.Title("Summary")
	p.Success("done")
	p.KeyValue("chains", "4")

	out := buf.String()
	assert.Contains(t, out, "Summary")
	assert.Contains(t, out, string(IconSuccess))
	assert.Contains(t, out, "chains:")
	assert.False(t, p.Machine())
}

func TestPrinter_ProgressBar(t *testing.T) {
	machine := NewPrinter(&bytes.Buffer{}, PersonalityMachine)
	assert.Equal(t, "3/10", machine.ProgressBar(3, 10, 20))

	std := NewPrinter(&bytes.Buffer{}, PersonalityStandard)
	bar := std.ProgressBar(5, 10, 10)
	assert.Equal(t, 5, strings.Count(bar, "█"))
	assert.Equal(t, 5, strings.Count(bar, "░"))
	assert.Contains(t, bar, "50%")

	assert.Equal(t, "0/0", std.ProgressBar(0, 0, 10))
}
