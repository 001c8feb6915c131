package channel

import (
	"sort"
	"sync"
	"time"

	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/patch"
)

// DefaultDebounce is the trailing window for coalesced fields.
const DefaultDebounce = 600 * time.Millisecond

var debouncedFields = map[string]bool{
	models.FieldPercentComplete: true,
	models.FieldCost:            true,
	models.FieldDescription:     true,
}

// Debounced reports whether a patch is coalesced before sending.
// Only free-typing fields are; structural ops always go out at once.
func Debounced(p patch.Patch) bool {
	return p.Op == patch.OpUpdate && debouncedFields[p.Field]
}

type debounceKey struct {
	field  string
	taskID int
}

type pendingPatch struct {
	p     patch.Patch
	timer *time.Timer
	gen   uint64
	seq   uint64
}

// Debouncer holds the latest patch per (field, taskId) and releases it once
// no newer edit arrived for the delay.
type Debouncer struct {
	delay time.Duration
	fire  func(patch.Patch)

	mu      sync.Mutex
	pending map[debounceKey]*pendingPatch
	gen     uint64
}

// NewDebouncer creates a debouncer that hands settled patches to fire.
func NewDebouncer(delay time.Duration, fire func(patch.Patch)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay, fire: fire, pending: make(map[debounceKey]*pendingPatch)}
}

// Put replaces any pending patch for the same key and restarts its timer.
func (d *Debouncer) Put(p patch.Patch) {
	key := debounceKey{field: p.Field, taskID: p.TaskID}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	gen := d.gen
	seq := gen
	if old, ok := d.pending[key]; ok {
		old.timer.Stop()
		seq = old.seq
	}
	d.pending[key] = &pendingPatch{
		p:   p,
		gen: gen,
		seq: seq,
		timer: time.AfterFunc(d.delay, func() {
			d.expire(key, gen)
		}),
	}
}

func (d *Debouncer) expire(key debounceKey, gen uint64) {
	d.mu.Lock()
	e, ok := d.pending[key]
	if !ok || e.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()
	d.fire(e.p)
}

// Flush releases every pending patch immediately, oldest key first.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	list := make([]*pendingPatch, 0, len(d.pending))
	for key, e := range d.pending {
		e.timer.Stop()
		list = append(list, e)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	for _, e := range list {
		d.fire(e.p)
	}
}

// Pending returns how many keys are waiting.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
