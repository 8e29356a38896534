package tui

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/thushan/codex-helper-proxy/internal/adapter/control"
	"github.com/thushan/codex-helper-proxy/internal/core/domain"
	"github.com/thushan/codex-helper-proxy/pkg/eventbus"
)

func newTestModel() Model {
	active := control.NewActiveTracker()
	recent := control.NewRecentRing(10)
	bus := eventbus.New[domain.RequestRecord]()
	return New(active, recent, bus)
}

func TestActiveRows_RendersOneRowPerActiveRequest(t *testing.T) {
	now := time.Now().UnixMilli()
	reqs := []*domain.ActiveRequest{
		{Service: "codex", ConfigName: "a", Model: "gpt-x", SessionID: "s1", StartMs: now - 5000},
	}

	rows := activeRows(reqs)
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	row := rows[0]
	if row[0] != "codex" || row[1] != "a" || row[2] != "gpt-x" || row[3] != "s1" {
		t.Fatalf("unexpected row contents: %v", row)
	}
}

func TestRecentRow_NoRetryDefaultsToZero(t *testing.T) {
	rec := domain.RequestRecord{Service: "codex", ConfigName: "a", StatusCode: 200, DurationMs: 120}
	row := recentRow(rec)
	if row[0] != "codex" || row[1] != "200" || row[2] != "a" || row[4] != "0" {
		t.Fatalf("unexpected row contents: %v", row)
	}
}

func TestRecentRow_RetryAttemptsSurfaced(t *testing.T) {
	rec := domain.RequestRecord{StatusCode: 502, Retry: &domain.RetryInfo{Attempts: 3}}
	row := recentRow(rec)
	if row[4] != "3" {
		t.Fatalf("expected retries=3, got %v", row[4])
	}
}

func TestPrependRow_KeepsMostRecentFirstAndCapsAtTen(t *testing.T) {
	var rows []table.Row
	for i := 0; i < 12; i++ {
		rows = prependRow(rows, table.Row{strconv.Itoa(i)})
	}
	if len(rows) != 10 {
		t.Fatalf("expected the row list capped at 10, got %d", len(rows))
	}
	if rows[0][0] != "11" {
		t.Fatalf("expected the newest row first, got %v", rows[0])
	}
}

func TestModel_UpdateHandlesWindowResize(t *testing.T) {
	m := newTestModel()
	updated, cmd := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	mm := updated.(Model)
	if mm.width != 120 || mm.height != 40 {
		t.Fatalf("expected dimensions captured, got %dx%d", mm.width, mm.height)
	}
	if cmd != nil {
		t.Fatal("expected no follow-up command on a resize")
	}
}

func TestModel_UpdateQuitsOnCtrlC(t *testing.T) {
	m := newTestModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected a quit command on ctrl+c")
	}
}

func TestModel_UpdateTickRefreshesActiveTable(t *testing.T) {
	m := newTestModel()
	_, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected the tick to schedule another tick command")
	}
}

func TestModel_UpdateRecordMsgPrependsRecentRow(t *testing.T) {
	m := newTestModel()
	rec := domain.RequestRecord{Service: "codex", StatusCode: 200}
	updated, cmd := m.Update(recordMsg(rec))
	mm := updated.(Model)
	if len(mm.recentTable.Rows()) != 1 {
		t.Fatalf("expected one recent row recorded, got %d", len(mm.recentTable.Rows()))
	}
	if cmd == nil {
		t.Fatal("expected the model to keep waiting for further records")
	}
}

func TestModel_ViewRendersHeaderAndHint(t *testing.T) {
	m := newTestModel()
	out := m.View()
	if !strings.Contains(out, "live dashboard") {
		t.Fatalf("expected the dashboard title in the view, got %q", out)
	}
	if !strings.Contains(out, "q to quit") {
		t.Fatalf("expected the quit hint in the view, got %q", out)
	}
}
