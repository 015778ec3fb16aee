// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package submission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/geoproof/geoproof/geocode"
	"github.com/geoproof/geoproof/imaging"
	"github.com/geoproof/geoproof/spatial"
	"github.com/geoproof/geoproof/telemetry"
	"github.com/google/uuid"
)

// Prober returns the aspect ratio of an image, never failing.
type Prober interface {
	Probe(ctx context.Context, h imaging.ImageHandle) float64
}

// AddressResolver returns the caption address for a point, never failing.
type AddressResolver interface {
	Resolve(ctx context.Context, p spatial.Point) geocode.Resolution
}

// Composer renders captioned images.
type Composer interface {
	Compose(ctx context.Context, h imaging.ImageHandle, ratio float64, fix spatial.LocationFix,
		address string) (*imaging.CompositeArtifact, error)
	Caption(fix spatial.LocationFix, address string) imaging.Caption
}

// CompressFunc produces the upload payload for a composite.
type CompressFunc func(ctx context.Context, a *imaging.CompositeArtifact,
	opts imaging.CompressOptions) (*imaging.CompressedArtifact, error)

// Deps are the collaborators a Controller drives.
type Deps struct {
	Prober     Prober
	Resolver   AddressResolver
	Compositor Composer
	// Compress defaults to imaging.Compress
	Compress CompressFunc
	Uploader Uploader
	Session  SessionManager
	// Slots is shared by every controller that must not submit concurrently
	Slots    *Slots
	Recorder telemetry.Recorder
}

// Options tune a Controller. Zero values fall back to defaults.
type Options struct {
	Workers     int
	Compression imaging.CompressOptions
	// UploadTimeout is the budget for one image; PerImageTimeout is added per extra image
	UploadTimeout   time.Duration
	PerImageTimeout time.Duration
	// OnTransition is called after every state change, outside the controller lock
	OnTransition func(from, to State)
	// OnProgress is called as items finish capturing and compressing
	OnProgress func(stage State, done, total int)
}

// Defaults for Options.
const (
	DefaultUploadTimeout   = 30 * time.Second
	DefaultPerImageTimeout = 10 * time.Second
)

// Item is one image of a batch and whatever has been derived from it so far.
type Item struct {
	Handle     imaging.ImageHandle
	Ratio      float64
	Composite  *imaging.CompositeArtifact
	Compressed *imaging.CompressedArtifact
	Err        error
}

type batch struct {
	id      uuid.UUID
	fix     spatial.LocationFix
	address geocode.Resolution
	items   []*Item
}

// Snapshot is a copy of the controller state for review screens.
type Snapshot struct {
	State   State
	BatchID uuid.UUID
	Fix     *spatial.LocationFix
	Address geocode.Resolution
	Items   []Item
}

type transition struct {
	from, to State
}

// Controller owns one batch for one slot and moves it through capture, review,
// compression and upload. All methods are safe for concurrent use; work happens
// outside the lock.
type Controller struct {
	slot Slot
	deps Deps
	opts Options

	mu      sync.Mutex
	state   State
	batch   *batch
	pending []transition

	progressMu sync.Mutex
}

func NewController(slot Slot, deps Deps, opts Options) *Controller {
	if deps.Compress == nil {
		deps.Compress = imaging.Compress
	}

	if deps.Session == nil {
		deps.Session = LogSessionManager{}
	}

	if deps.Slots == nil {
		deps.Slots = NewSlots()
	}

	if deps.Recorder == nil {
		deps.Recorder = telemetry.Nop{}
	}

	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	if opts.Compression == (imaging.CompressOptions{}) {
		opts.Compression = imaging.DefaultCompressOptions()
	}

	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}

	if opts.PerImageTimeout < 0 {
		opts.PerImageTimeout = 0
	}

	return &Controller{slot: slot, deps: deps, opts: opts}
}

// Slot returns the slot this controller submits to.
func (c *Controller) Slot() Slot {
	return c.slot
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Snapshot returns a copy of the batch for display.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{State: c.state}
	if c.batch == nil {
		return s
	}

	fix := c.batch.fix
	s.BatchID = c.batch.id
	s.Fix = &fix
	s.Address = c.batch.address

	s.Items = make([]Item, len(c.batch.items))
	for i, it := range c.batch.items {
		s.Items[i] = *it
	}

	return s
}

func (c *Controller) lock() {
	c.mu.Lock()
}

// unlock releases the lock and then reports the transitions made while holding it.
func (c *Controller) unlock() {
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if c.opts.OnTransition == nil {
		return
	}

	for _, t := range pending {
		c.opts.OnTransition(t.from, t.to)
	}
}

// setState must be called with the lock held.
func (c *Controller) setState(to State) {
	if c.state == to {
		return
	}

	c.pending = append(c.pending, transition{from: c.state, to: to})
	c.state = to
}

// teardown drops the batch; must be called with the lock held.
func (c *Controller) teardown(to State) {
	c.batch = nil
	c.setState(to)
}

func (c *Controller) progress(stage State, done, total int) {
	if c.opts.OnProgress == nil {
		return
	}

	c.progressMu.Lock()
	defer c.progressMu.Unlock()

	c.opts.OnProgress(stage, done, total)
}

// Start begins a batch with the given fix and images. The address is resolved once
// for the whole batch; afterwards the controller is Reviewing.
func (c *Controller) Start(ctx context.Context, fix spatial.LocationFix, handles ...imaging.ImageHandle) error {
	if len(handles) == 0 {
		return ErrNoImages
	}

	c.lock()

	if !c.state.Idle() {
		state := c.state
		c.unlock()

		return fmt.Errorf("start in %s: %w", state, ErrInvalidState)
	}

	b := &batch{id: uuid.New(), fix: fix}
	c.batch = b
	c.setState(StateCollecting)
	c.unlock()

	items := c.probe(ctx, handles)

	c.lock()

	if c.batch != b {
		c.unlock()

		return ErrBatchDiscarded
	}

	b.items = items
	c.setState(StateAddressResolving)
	c.unlock()

	res := c.deps.Resolver.Resolve(ctx, fix.Point)

	c.lock()
	defer c.unlock()

	if c.batch != b {
		return ErrBatchDiscarded
	}

	b.address = res
	c.setState(StateReviewing)

	log.Printf("Batch %s ready for review: %d image(s), address %q (%s)", b.id, len(items), res.Address, res.Outcome)

	return nil
}

// Add appends images to the batch under review. The address is not resolved again
// and existing items are left as they are.
func (c *Controller) Add(ctx context.Context, handles ...imaging.ImageHandle) error {
	if len(handles) == 0 {
		return ErrNoImages
	}

	c.lock()

	if c.state != StateReviewing {
		state := c.state
		c.unlock()

		return fmt.Errorf("add in %s: %w", state, ErrInvalidState)
	}

	b := c.batch
	c.setState(StateCollecting)
	c.unlock()

	items := c.probe(ctx, handles)

	c.lock()
	defer c.unlock()

	if c.batch != b {
		return ErrBatchDiscarded
	}

	b.items = append(b.items, items...)
	c.setState(StateReviewing)

	return nil
}

// Remove drops the item at index. Removing the last item empties the controller
// and forgets the location fix.
func (c *Controller) Remove(index int) error {
	c.lock()
	defer c.unlock()

	if c.state != StateReviewing {
		return fmt.Errorf("remove in %s: %w", c.state, ErrInvalidState)
	}

	if index < 0 || index >= len(c.batch.items) {
		return fmt.Errorf("remove %d of %d: %w", index, len(c.batch.items), ErrNoSuchItem)
	}

	c.setState(StateCollecting)

	items := c.batch.items
	c.batch.items = append(items[:index:index], items[index+1:]...)

	if len(c.batch.items) == 0 {
		c.teardown(StateEmpty)

		return nil
	}

	c.setState(StateReviewing)

	return nil
}

// Cancel discards the batch before submission. Once Submit has started the
// in-flight outcome stands and ErrCancelUnsupported is returned.
func (c *Controller) Cancel() error {
	c.lock()
	defer c.unlock()

	if c.state.busy() {
		return fmt.Errorf("cancel in %s: %w", c.state, ErrCancelUnsupported)
	}

	if c.state == StateEmpty {
		return nil
	}

	c.teardown(StateEmpty)

	return nil
}

func (c *Controller) probe(ctx context.Context, handles []imaging.ImageHandle) []*Item {
	items := make([]*Item, len(handles))
	for i, h := range handles {
		items[i] = &Item{Handle: h, Ratio: c.deps.Prober.Probe(ctx, h)}
	}

	return items
}

// Submit captures, compresses and uploads the batch under review. On success the
// batch is torn down. Compression and transport failures return the controller to
// Reviewing with finished work kept; an auth failure abandons the batch.
func (c *Controller) Submit(ctx context.Context, meta Metadata) (*Receipt, error) {
	c.lock()

	if c.state != StateReviewing {
		state := c.state
		c.unlock()

		return nil, fmt.Errorf("submit in %s: %w", state, ErrInvalidState)
	}

	release, err := c.deps.Slots.Acquire(c.slot)
	if err != nil {
		c.unlock()

		return nil, err
	}
	defer release()

	b := c.batch
	items := snapshotItems(b.items)
	c.setState(StateCapturing)
	c.unlock()

	composites := c.capture(ctx, b, items)

	c.lock()
	for i, a := range composites {
		if a != nil {
			b.items[i].Composite = a
		}
	}

	items = snapshotItems(b.items)
	c.setState(StateCompressing)
	c.unlock()

	if err := c.compress(ctx, b, items); err != nil {
		return nil, err
	}

	c.lock()
	req := &Request{
		BatchID:  b.id,
		Slot:     c.slot,
		Fix:      b.fix,
		Address:  b.address.Address,
		Metadata: meta,
	}

	for _, it := range b.items {
		req.Artifacts = append(req.Artifacts, it.Compressed)
	}

	c.setState(StateUploading)
	c.unlock()

	return c.upload(ctx, req)
}

func snapshotItems(items []*Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = *it
	}

	return out
}

// capture renders every item that has no composite yet. Failed renders are
// replaced by the uncomposited original.
func (c *Controller) capture(ctx context.Context, b *batch, items []Item) []*imaging.CompositeArtifact {
	out := make([]*imaging.CompositeArtifact, len(items))

	var todo []int

	for i, it := range items {
		if it.Composite == nil {
			todo = append(todo, i)
		}
	}

	address := b.address.Address
	c.parallel(StateCapturing, todo, func(i int) {
		h := items[i].Handle

		a, err := c.compose(ctx, h, items[i].Ratio, b.fix, address)
		if err != nil {
			log.Printf("Compositing %s failed, keeping the original: %v", h, err)
			c.deps.Recorder.Record(telemetry.EventCompositeDegraded, telemetry.Properties{
				"batch_id": b.id.String(),
				"index":    i,
			})

			a = imaging.Uncomposited(h, c.deps.Compositor.Caption(b.fix, address))
		}

		out[i] = a
	})

	return out
}

func (c *Controller) compose(ctx context.Context, h imaging.ImageHandle, ratio float64, fix spatial.LocationFix,
	address string,
) (a *imaging.CompositeArtifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", imaging.ErrCaptureUnavailable, r)
		}
	}()

	return c.deps.Compositor.Compose(ctx, h, ratio, fix, address)
}

// compress fills in every missing compressed artifact. When any item fails the
// controller goes back to Reviewing and a *BatchError is returned.
func (c *Controller) compress(ctx context.Context, b *batch, items []Item) error {
	out := make([]*imaging.CompressedArtifact, len(items))
	errs := make([]error, len(items))

	var todo []int

	for i, it := range items {
		if it.Compressed == nil {
			todo = append(todo, i)
		}
	}

	c.parallel(StateCompressing, todo, func(i int) {
		defer func() {
			if r := recover(); r != nil {
				errs[i] = &imaging.CompressionError{Source: items[i].Handle, Err: fmt.Errorf("panic: %v", r)}
			}
		}()

		a, err := c.deps.Compress(ctx, items[i].Composite, c.opts.Compression)
		if err != nil {
			if !errors.Is(err, imaging.ErrCompressionFailed) {
				err = &imaging.CompressionError{Source: items[i].Handle, Err: err}
			}

			errs[i] = err

			return
		}

		out[i] = a
	})

	c.lock()
	defer c.unlock()

	batchErr := &BatchError{Stage: StateCompressing}

	for _, i := range todo {
		it := b.items[i]
		it.Err = errs[i]

		if errs[i] != nil {
			batchErr.Indexes = append(batchErr.Indexes, i)
			batchErr.Errs = append(batchErr.Errs, errs[i])

			continue
		}

		it.Compressed = out[i]
	}

	if len(batchErr.Errs) == 0 {
		return nil
	}

	for _, i := range batchErr.Indexes {
		c.deps.Recorder.Record(telemetry.EventCompressionFailed, telemetry.Properties{
			"batch_id": b.id.String(),
			"index":    i,
		})
	}

	log.Printf("Batch %s: %v", b.id, batchErr)
	c.setState(StateReviewing)

	return batchErr
}

// parallel runs fn for each index with at most opts.Workers in flight. fn records
// its own result.
func (c *Controller) parallel(stage State, indexes []int, fn func(i int)) {
	total := len(indexes)
	if total == 0 {
		return
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)

	semaphore := make(chan struct{}, c.opts.Workers)

	for _, i := range indexes {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			semaphore <- struct{}{}

			defer func() { <-semaphore }()

			fn(i)

			mu.Lock()
			done++
			n := done
			mu.Unlock()

			c.progress(stage, n, total)
		}(i)
	}

	wg.Wait()
}

// uploadTimeout returns the budget for a batch of n images.
func (c *Controller) uploadTimeout(n int) time.Duration {
	if n <= 1 {
		return c.opts.UploadTimeout
	}

	return c.opts.UploadTimeout + time.Duration(n-1)*c.opts.PerImageTimeout
}

func (c *Controller) upload(ctx context.Context, req *Request) (*Receipt, error) {
	// once the request is on the wire only the timeout ends it
	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.uploadTimeout(len(req.Artifacts)))
	defer cancel()

	receipt, err := c.deps.Uploader.Upload(uploadCtx, req)
	props := telemetry.Properties{"batch_id": req.BatchID.String(), "slot": string(req.Slot), "images": len(req.Artifacts)}

	switch {
	case err == nil:
		c.deps.Recorder.Record(telemetry.EventSubmissionSent, props)
		log.Printf("Batch %s submitted: %d image(s)", req.BatchID, len(req.Artifacts))

		c.lock()
		c.teardown(StateSucceeded)
		c.unlock()

		return receipt, nil

	case errors.Is(err, ErrUploadAuth):
		c.deps.Recorder.Record(telemetry.EventSubmissionRejected, props)
		log.Printf("Batch %s rejected, discarding: %v", req.BatchID, err)

		c.lock()
		c.teardown(StateFailed)
		c.unlock()

		c.deps.Session.SessionExpired(ctx, err)

		return nil, err

	default:
		if !errors.Is(err, ErrUploadTransport) {
			err = fmt.Errorf("%w: %w", ErrUploadTransport, err)
		}

		c.deps.Recorder.Record(telemetry.EventSubmissionFailed, props)
		log.Printf("Batch %s upload failed, kept for retry: %v", req.BatchID, err)

		c.lock()
		c.setState(StateReviewing)
		c.unlock()

		return nil, err
	}
}
