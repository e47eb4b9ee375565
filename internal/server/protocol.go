package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ml-rust/venus"
	"github.com/ml-rust/venus/internal/cell"
)

// Request is one client message. ID is echoed back so clients can match
// responses to requests.
type Request struct {
	ID int64  `json:"id,omitempty"`
	Op string `json:"op"`

	Cell    string          `json:"cell,omitempty"`
	CellID  *venus.CellID   `json:"cell_id,omitempty"`
	Source  string          `json:"source,omitempty"`
	Name    string          `json:"name,omitempty"`
	At      *int            `json:"at,omitempty"`
	Dir     string          `json:"dir,omitempty"`
	Index   *int            `json:"index,omitempty"`
	Backend string          `json:"backend,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// Response answers one request.
type Response struct {
	ID    int64  `json:"id,omitempty"`
	Kind  string `json:"kind"` // "ok" or "error"
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// eventMessage pushes one session event.
type eventMessage struct {
	Kind  string      `json:"kind"` // "event"
	Event venus.Event `json:"event"`
}

// cellView is the wire form of one cell, statuses included.
type cellView struct {
	ID           venus.CellID       `json:"id"`
	Name         string             `json:"name"`
	Kind         venus.Kind         `json:"kind"`
	Source       string             `json:"source"`
	Doc          string             `json:"doc,omitempty"`
	Dependencies []venus.Dependency `json:"dependencies,omitempty"`
	ReturnType   string             `json:"return_type,omitempty"`
	Status       venus.Status       `json:"status,omitempty"`
	Display      string             `json:"display,omitempty"`
}

func ok(id int64, data any) *Response {
	return &Response{ID: id, Kind: "ok", Data: data}
}

func fail(id int64, err error) *Response {
	return &Response{ID: id, Kind: "error", Error: err.Error()}
}

// dispatch routes one request to the session.
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Op {
	case "list_cells":
		return ok(req.ID, s.listCells())

	case "edges":
		return ok(req.ID, s.session.Edges())

	case "execute_cell":
		id, err := s.resolveCell(req)
		if err != nil {
			return fail(req.ID, err)
		}
		out, err := s.session.ExecuteCell(ctx, id)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, outputView(out))

	case "execute_all":
		if err := s.session.ExecuteAll(ctx); err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, nil)

	case "execute_dirty":
		if err := s.session.ExecuteDirty(ctx); err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, nil)

	case "interrupt":
		s.session.Interrupt()
		return ok(req.ID, nil)

	case "insert_cell":
		at := -1
		if req.At != nil {
			at = *req.At
		}
		ch, err := s.session.InsertCell(req.Source, at)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, s.changeView(ch))

	case "edit_cell":
		id, err := s.resolveCell(req)
		if err != nil {
			return fail(req.ID, err)
		}
		ch, err := s.session.EditCell(id, req.Source)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, s.changeView(ch))

	case "delete_cell":
		id, err := s.resolveCell(req)
		if err != nil {
			return fail(req.ID, err)
		}
		ch, err := s.session.DeleteCell(id)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, s.changeView(ch))

	case "duplicate_cell":
		id, err := s.resolveCell(req)
		if err != nil {
			return fail(req.ID, err)
		}
		ch, err := s.session.DuplicateCell(id)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, s.changeView(ch))

	case "move_cell":
		id, err := s.resolveCell(req)
		if err != nil {
			return fail(req.ID, err)
		}
		dir := cell.MoveDirection(req.Dir)
		if dir != cell.MoveUp && dir != cell.MoveDown {
			return fail(req.ID, fmt.Errorf("dir must be %q or %q", cell.MoveUp, cell.MoveDown))
		}
		ch, err := s.session.MoveCell(id, dir)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, s.changeView(ch))

	case "rename_cell":
		id, err := s.resolveCell(req)
		if err != nil {
			return fail(req.ID, err)
		}
		ch, err := s.session.RenameCell(id, req.Name)
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, s.changeView(ch))

	case "undo":
		desc, err := s.session.Undo()
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, desc)

	case "redo":
		desc, err := s.session.Redo()
		if err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, desc)

	case "history":
		entries, err := s.session.History(req.Cell)
		if err != nil {
			return fail(req.ID, err)
		}
		views := make([]historyView, len(entries))
		for i, e := range entries {
			views[i] = historyEntryView(e)
		}
		return ok(req.ID, views)

	case "select_history":
		if req.Index == nil {
			return fail(req.ID, fmt.Errorf("select_history requires index"))
		}
		if err := s.session.SelectHistory(req.Cell, *req.Index); err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, nil)

	case "restart":
		s.session.Restart()
		return ok(req.ID, nil)

	case "clear_outputs":
		if err := s.session.ClearOutputs(); err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, nil)

	case "reload":
		if err := s.session.Reload(); err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, nil)

	case "set_backend":
		if err := s.session.SetBackend(venus.Backend(req.Backend)); err != nil {
			return fail(req.ID, err)
		}
		return ok(req.ID, nil)

	default:
		return fail(req.ID, fmt.Errorf("unknown op %q", req.Op))
	}
}

// resolveCell finds the target cell by explicit id or by name.
func (s *Server) resolveCell(req *Request) (venus.CellID, error) {
	if req.CellID != nil {
		return *req.CellID, nil
	}
	if req.Cell != "" {
		for _, c := range s.session.Cells() {
			if c.Name == req.Cell {
				return c.ID, nil
			}
		}
		return 0, fmt.Errorf("no cell named %q", req.Cell)
	}
	return 0, fmt.Errorf("request requires cell or cell_id")
}

func (s *Server) listCells() []cellView {
	cells := s.session.Cells()
	views := make([]cellView, len(cells))
	for i, c := range cells {
		views[i] = s.viewOf(c)
	}
	return views
}

func (s *Server) viewOf(c *venus.Cell) cellView {
	v := cellView{
		ID:           c.ID,
		Name:         c.Name,
		Kind:         c.Kind,
		Source:       c.Source,
		Doc:          c.Doc,
		Dependencies: c.Dependencies,
		ReturnType:   c.ReturnType,
	}
	if c.Kind == venus.KindRunnable {
		v.Status = s.session.StatusOf(c.ID)
		if o := s.session.OutputOf(c.Name); o != nil {
			v.Display = o.Display
		}
	}
	return v
}

// changeView is the wire form of one structural edit result.
type changeView struct {
	Cell    cellView `json:"cell"`
	Dirtied []string `json:"dirtied,omitempty"`
}

func (s *Server) changeView(ch *venus.Change) changeView {
	return changeView{Cell: s.viewOf(ch.Cell), Dirtied: ch.Dirtied}
}

// outputJSON is the wire form of one cell output.
type outputJSON struct {
	Cell     string          `json:"cell"`
	Value    json.RawMessage `json:"value,omitempty"`
	Display  string          `json:"display"`
	Hash     string          `json:"hash"`
	Duration string          `json:"duration"`
}

func outputView(o *venus.Output) outputJSON {
	return outputJSON{
		Cell:     o.CellName,
		Value:    json.RawMessage(o.Value),
		Display:  o.Display,
		Hash:     o.Hash,
		Duration: o.Duration.String(),
	}
}

// historyView is the wire form of one history entry.
type historyView struct {
	Source   string          `json:"source"`
	Value    json.RawMessage `json:"value,omitempty"`
	Display  string          `json:"display,omitempty"`
	Hash     string          `json:"hash,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration string          `json:"duration"`
	When     string          `json:"when"`
}

func historyEntryView(e *venus.HistoryEntry) historyView {
	return historyView{
		Source:   e.Source,
		Value:    json.RawMessage(e.Value),
		Display:  e.Display,
		Hash:     e.Hash,
		Error:    e.Err,
		Duration: e.Duration.String(),
		When:     e.When.Format("2006-01-02T15:04:05Z07:00"),
	}
}
