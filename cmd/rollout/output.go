// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianRollout/services/rollout/analysis"
	"github.com/AleutianAI/AleutianRollout/services/rollout/assign"
	"github.com/AleutianAI/AleutianRollout/services/rollout/status"
)

// Aleutian palette, trimmed to what the rollout CLI shows.
var (
	colorTealBright = lipgloss.Color("#2CD7C7")
	colorTealDeep   = lipgloss.Color("#16858E")
	colorSlate      = lipgloss.Color("#2C4A54")
	colorWarning    = lipgloss.Color("#F4D03F")
	colorError      = lipgloss.Color("#E74C3C")
)

// styles are bound to one writer so colour is only emitted to terminals.
type styles struct {
	title   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	box     lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(colorTealBright),
		muted:   r.NewStyle().Foreground(colorSlate),
		success: r.NewStyle().Bold(true).Foreground(colorTealBright),
		warning: r.NewStyle().Bold(true).Foreground(colorWarning),
		err:     r.NewStyle().Bold(true).Foreground(colorError),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorTealDeep).
			Padding(0, 1),
	}
}

// recommendation colours the action by how safe it is.
func (s styles) recommendation(rec analysis.Recommendation) string {
	switch rec {
	case analysis.Rollback:
		return s.err.Render(string(rec))
	case analysis.Rollout, analysis.Expand:
		return s.success.Render(string(rec))
	default:
		return s.warning.Render(string(rec))
	}
}

// printer renders command results as text or JSON.
type printer struct {
	w     io.Writer
	json  bool
	style styles
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	return &printer{w: w, json: asJSON, style: newStyles(w)}
}

func (p *printer) emitJSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) statusList(list []status.Status) error {
	if p.json {
		if list == nil {
			list = []status.Status{}
		}
		return p.emitJSON(list)
	}
	if len(list) == 0 {
		fmt.Fprintln(p.w, p.style.muted.Render("no experiments"))
		return nil
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTARGET\tSTATE\tROLLOUT\tFORCE\tSAMPLES (B/C)\tPROGRESS")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%s\t%d/%d\t%.0f%%\n",
			s.Name, s.Target, state(s), s.RolloutPercentage*100, force(s),
			s.BaselineSamples, s.CandidateSamples, s.Progress)
	}
	return tw.Flush()
}

func (p *printer) status(s status.Status) error {
	if p.json {
		return p.emitJSON(s)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", p.style.title.Render(s.Name))
	fmt.Fprintf(&b, "target:       %s\n", s.Target)
	fmt.Fprintf(&b, "state:        %s\n", state(s))
	fmt.Fprintf(&b, "rollout:      %.0f%%\n", s.RolloutPercentage*100)
	fmt.Fprintf(&b, "force:        %s\n", force(s))
	fmt.Fprintf(&b, "window:       %s to %s\n", stamp(s.StartTime), stamp(s.EndTime))
	fmt.Fprintf(&b, "assignments:  baseline=%d candidate=%d\n", s.BaselineAssignments, s.CandidateAssignments)
	fmt.Fprintf(&b, "samples:      baseline=%d candidate=%d (min %d each)\n",
		s.BaselineSamples, s.CandidateSamples, s.MinSamples)
	fmt.Fprintf(&b, "progress:     %.1f%%", s.Progress)
	_, err := fmt.Fprintln(p.w, p.style.box.Render(b.String()))
	return err
}

func (p *printer) decision(d assign.Decision) error {
	if p.json {
		return p.emitJSON(d)
	}
	_, err := fmt.Fprintf(p.w, "%s %s (experiment=%s reason=%s)\n",
		p.style.title.Render(string(d.Variant)),
		p.style.muted.Render(fmt.Sprintf("is_candidate=%t", d.IsCandidate)),
		d.Experiment, d.Reason)
	return err
}

func (p *printer) result(res *analysis.Result) error {
	if p.json {
		return p.emitJSON(res)
	}
	fmt.Fprint(p.w, res.Summary())
	_, err := fmt.Fprintf(p.w, "%s %s\n", p.style.muted.Render("=>"), p.style.recommendation(res.Recommendation))
	return err
}

func (p *printer) shortfall(e *analysis.InsufficientDataError) error {
	if p.json {
		return p.emitJSON(map[string]any{
			"ready":     false,
			"baseline":  e.Baseline,
			"candidate": e.Candidate,
			"required":  e.Required,
		})
	}
	_, err := fmt.Fprintf(p.w, "%s: baseline=%d candidate=%d, need %d per variant\n",
		p.style.warning.Render("insufficient data"), e.Baseline, e.Candidate, e.Required)
	return err
}

func (p *printer) recorded(id string) error {
	if p.json {
		return p.emitJSON(map[string]any{"written": true, "id": id})
	}
	_, err := fmt.Fprintf(p.w, "recorded %s\n", id)
	return err
}

func state(s status.Status) string {
	switch {
	case !s.Enabled:
		return "paused"
	case s.Active:
		return "active"
	default:
		return "inactive"
	}
}

func force(s status.Status) string {
	if s.ForceVariant == nil {
		return "-"
	}
	return string(*s.ForceVariant)
}

func stamp(t *time.Time) string {
	if t == nil {
		return "open"
	}
	return t.UTC().Format(time.RFC3339)
}
