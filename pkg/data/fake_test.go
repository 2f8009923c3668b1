package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harrisonrobin/eventdesk/pkg/backend"
)

type row = map[string]any

type invocation struct {
	Name string
	Body json.RawMessage
}

// fakeBackend keeps tables in memory and evaluates query filters the way
// the REST endpoint does, closely enough for these tests.
type fakeBackend struct {
	mu      sync.Mutex
	tables  map[string][]row
	seq     int
	now     time.Time
	fail    map[string]error
	invoked []invocation
	calls   []string

	// before runs ahead of every call with "op:table", outside the lock.
	before func(call string)
}

func newFakeBackend(now time.Time) *fakeBackend {
	return &fakeBackend{tables: map[string][]row{}, fail: map[string]error{}, now: now}
}

// seed stores v (a struct or slice of structs) as rows of table.
func (f *fakeBackend) seed(table string, v any) {
	rows := toRows(v)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = append(f.tables[table], rows...)
}

func (f *fakeBackend) failOn(call string, err error) {
	f.mu.Lock()
	f.fail[call] = err
	f.mu.Unlock()
}

func (f *fakeBackend) rows(table string) []row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]row(nil), f.tables[table]...)
}

func (f *fakeBackend) invocations() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.invoked...)
}

func (f *fakeBackend) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeBackend) enter(ctx context.Context, op, table string) error {
	call := op + ":" + table
	if f.before != nil {
		f.before(call)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail[call]
}

func (f *fakeBackend) Select(ctx context.Context, q backend.Query, dst any) error {
	if err := f.enter(ctx, "select", q.Table); err != nil {
		return err
	}
	f.mu.Lock()
	out := f.query(q)
	f.mu.Unlock()
	return decodeInto(out, dst)
}

func (f *fakeBackend) SelectOne(ctx context.Context, q backend.Query, dst any) error {
	if err := f.enter(ctx, "select", q.Table); err != nil {
		return err
	}
	f.mu.Lock()
	out := f.query(q)
	f.mu.Unlock()
	if len(out) == 0 {
		return backend.ErrNotFound
	}
	return decodeInto(out[0], dst)
}

func (f *fakeBackend) Count(ctx context.Context, q backend.Query) (int, error) {
	if err := f.enter(ctx, "count", q.Table); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.query(q)), nil
}

func (f *fakeBackend) Insert(ctx context.Context, table string, rows any, dst any) error {
	if err := f.enter(ctx, "insert", table); err != nil {
		return err
	}
	f.mu.Lock()
	var stored []row
	for _, r := range toRows(rows) {
		f.seq++
		if id, _ := r["id"].(string); id == "" {
			r["id"] = table + "-" + strconv.Itoa(f.seq)
		}
		if _, ok := r["created_at"]; !ok {
			r["created_at"] = f.now.UTC().Format(time.RFC3339Nano)
		}
		f.tables[table] = append(f.tables[table], r)
		stored = append(stored, r)
	}
	f.mu.Unlock()
	if dst == nil {
		return nil
	}
	return decodeInto(stored, dst)
}

func (f *fakeBackend) Update(ctx context.Context, q backend.Query, patch any, dst any) error {
	if err := f.enter(ctx, "update", q.Table); err != nil {
		return err
	}
	p := toRows(patch)[0]
	f.mu.Lock()
	var out []row
	for _, r := range f.tables[q.Table] {
		if matches(r, q.Filters) {
			for k, v := range p {
				r[k] = v
			}
			out = append(out, r)
		}
	}
	f.mu.Unlock()
	if dst == nil {
		return nil
	}
	return decodeInto(out, dst)
}

func (f *fakeBackend) Delete(ctx context.Context, q backend.Query) error {
	if err := f.enter(ctx, "delete", q.Table); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.tables[q.Table][:0]
	for _, r := range f.tables[q.Table] {
		if !matches(r, q.Filters) {
			kept = append(kept, r)
		}
	}
	f.tables[q.Table] = kept
	return nil
}

func (f *fakeBackend) Invoke(ctx context.Context, name string, body any, dst any) error {
	if err := f.enter(ctx, "invoke", name); err != nil {
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.invoked = append(f.invoked, invocation{Name: name, Body: raw})
	f.mu.Unlock()
	return nil
}

// query runs q against the stored rows. Caller holds mu.
func (f *fakeBackend) query(q backend.Query) []row {
	var out []row
	for _, r := range f.tables[q.Table] {
		if matches(r, q.Filters) {
			out = append(out, r)
		}
	}
	if len(q.Orders) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Orders {
				a, b := out[i][o.Column], out[j][o.Column]
				if a == nil && b == nil {
					continue
				}
				// Nulls sort last ascending and first descending.
				if a == nil || b == nil {
					return (a == nil) == o.Descending
				}
				c := compare(a, b)
				if c == 0 {
					continue
				}
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Max > 0 && len(out) > q.Max {
		out = out[:q.Max]
	}
	return out
}

func matches(r row, filters []backend.Filter) bool {
	for _, f := range filters {
		v := r[f.Column]
		switch f.Op {
		case backend.OpEq:
			if v == nil || compare(v, f.Value) != 0 {
				return false
			}
		case backend.OpNeq:
			if v != nil && compare(v, f.Value) == 0 {
				return false
			}
		case backend.OpGt, backend.OpGte, backend.OpLt, backend.OpLte:
			if v == nil {
				return false
			}
			c := compare(v, f.Value)
			ok := map[backend.Op]bool{
				backend.OpGt:  c > 0,
				backend.OpGte: c >= 0,
				backend.OpLt:  c < 0,
				backend.OpLte: c <= 0,
			}[f.Op]
			if !ok {
				return false
			}
		case backend.OpIs:
			if f.Value == nil && v != nil {
				return false
			}
		case backend.OpIn:
			vals, _ := f.Value.([]any)
			found := false
			for _, want := range vals {
				if v != nil && compare(v, want) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case backend.OpILike:
			pat := strings.ToLower(strings.Trim(fmt.Sprint(f.Value), "%"))
			if !strings.Contains(strings.ToLower(fmt.Sprint(v)), pat) {
				return false
			}
		}
	}
	return true
}

// compare orders two values as times, numbers or strings.
func compare(a, b any) int {
	as, bs := text(a), text(b)
	if at, err := time.Parse(time.RFC3339Nano, as); err == nil {
		if bt, err := time.Parse(time.RFC3339Nano, bs); err == nil {
			return at.Compare(bt)
		}
	}
	if af, err := strconv.ParseFloat(as, 64); err == nil {
		if bf, err := strconv.ParseFloat(bs, 64); err == nil {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(as, bs)
}

func text(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// toRows turns a struct, map or slice of either into JSON-shaped rows.
func toRows(v any) []row {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var many []row
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	var one row
	if err := json.Unmarshal(raw, &one); err != nil {
		panic(err)
	}
	return []row{one}
}

func decodeInto(v any, dst any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
