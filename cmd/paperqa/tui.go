package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kalambet/paperqa/internal/api"
	"github.com/kalambet/paperqa/internal/poller"
)

var errAborted = errors.New("stopped watching; the job keeps running on the server")

type progressMsg poller.Status

type doneMsg struct{ err error }

// progressModel shows a spinner with the job's latest progress text.
type progressModel struct {
	jobID    string
	spinner  spinner.Model
	progress string
	elapsed  time.Duration
	done     bool
	err      error
	aborted  bool
}

func newProgressModel(jobID string) progressModel {
	s := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styleStep))
	return progressModel{jobID: jobID, spinner: s, progress: "Queued"}
}

func (m progressModel) Init() tea.Cmd { return m.spinner.Tick }

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.aborted = true
			return m, tea.Quit
		}
	case progressMsg:
		if msg.Progress != "" {
			m.progress = msg.Progress
		}
		m.elapsed = msg.Elapsed
		return m, nil
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m progressModel) View() string {
	if m.done {
		if m.err != nil {
			return colorize(styleError, "✗ "+m.err.Error()) + "\n"
		}
		return colorize(styleSuccess, "✓ Answer ready") + "\n"
	}
	if m.aborted {
		return ""
	}
	return fmt.Sprintf("%s %s %s\n%s\n",
		m.spinner.View(),
		m.progress,
		colorize(styleFaint, fmt.Sprintf("(%s)", m.elapsed)),
		colorize(styleFaint, "job "+m.jobID+"  q to stop watching"),
	)
}

type pollResult struct {
	view api.JobView
	err  error
}

// runProgressTUI polls the job while rendering its progress. Leaving the view
// stops polling only; the job is not cancelled.
func runProgressTUI(ctx context.Context, client *apiClient, id string) (api.JobView, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(id), tea.WithContext(ctx), tea.WithOutput(os.Stderr))
	results := make(chan pollResult, 1)
	go func() {
		view, err := waitForJob(ctx, client, id, poller.Options{
			OnProgress: func(st poller.Status) { p.Send(progressMsg(st)) },
		})
		results <- pollResult{view: view, err: err}
		p.Send(doneMsg{err: err})
	}()

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return api.JobView{}, err
	}
	if m, ok := final.(progressModel); ok && m.aborted {
		return api.JobView{}, errAborted
	}
	r := <-results
	return r.view, r.err
}
