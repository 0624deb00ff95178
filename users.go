package lnduma

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// defaultMinSendableMsat and defaultMaxSendableMsat are the bounds
	// of plain LNURL responses and of receivers configured without any.
	defaultMinSendableMsat = 1_000
	defaultMaxSendableMsat = 10_000_000
)

// StaticUserDirectory is a UserDirectory over a fixed set of receivers.
type StaticUserDirectory struct {
	byHandle map[string]*Receiver
	byID     map[string]*Receiver
	ordered  []*Receiver
}

// NewStaticUserDirectory creates a directory of the given receivers. Handles
// and IDs must be unique.
func NewStaticUserDirectory(receivers ...*Receiver) (*StaticUserDirectory,
	error) {

	d := &StaticUserDirectory{
		byHandle: make(map[string]*Receiver),
		byID:     make(map[string]*Receiver),
	}
	for _, r := range receivers {
		handle := normalizeHandle(r.Handle)
		if handle == "" || r.ID == "" {
			return nil, fmt.Errorf("receiver needs a handle and an id")
		}
		if r.MinSendableMsat <= 0 || r.MaxSendableMsat < r.MinSendableMsat {
			return nil, fmt.Errorf("invalid bounds [%d, %d] for %s",
				r.MinSendableMsat, r.MaxSendableMsat, handle)
		}
		if _, ok := d.byHandle[handle]; ok {
			return nil, fmt.Errorf("duplicate handle %s", handle)
		}
		if _, ok := d.byID[r.ID]; ok {
			return nil, fmt.Errorf("duplicate receiver id %s", r.ID)
		}

		r.Handle = handle
		d.byHandle[handle] = r
		d.byID[r.ID] = r
		d.ordered = append(d.ordered, r)
	}

	return d, nil
}

func (d *StaticUserDirectory) ReceiverByHandle(_ context.Context,
	handle string) (*Receiver, error) {

	r, ok := d.byHandle[normalizeHandle(handle)]
	if !ok {
		return nil, ErrReceiverNotFound
	}

	return r, nil
}

func (d *StaticUserDirectory) ReceiverByID(_ context.Context,
	id string) (*Receiver, error) {

	r, ok := d.byID[id]
	if !ok {
		return nil, ErrReceiverNotFound
	}

	return r, nil
}

// Receivers returns every receiver in the order they were added.
func (d *StaticUserDirectory) Receivers() []*Receiver {
	return d.ordered
}

// ParseReceiver parses a receiver from the form
// handle[:id[:minMsat:maxMsat[:nodePubKey]]]. A missing id is generated.
func ParseReceiver(raw string) (*Receiver, error) {
	parts := strings.Split(raw, ":")
	if len(parts) > 5 || len(parts) == 3 {
		return nil, fmt.Errorf("invalid receiver %q, expected "+
			"handle[:id[:minMsat:maxMsat[:nodePubKey]]]", raw)
	}

	r := &Receiver{
		Handle:          normalizeHandle(parts[0]),
		MinSendableMsat: defaultMinSendableMsat,
		MaxSendableMsat: defaultMaxSendableMsat,
	}
	if r.Handle == "" {
		return nil, fmt.Errorf("invalid receiver %q: empty handle", raw)
	}

	if len(parts) > 1 && parts[1] != "" {
		r.ID = parts[1]
	} else {
		r.ID = uuid.NewString()
	}

	if len(parts) >= 4 {
		var err error
		r.MinSendableMsat, err = strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid min amount in %q: %w",
				raw, err)
		}
		r.MaxSendableMsat, err = strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid max amount in %q: %w",
				raw, err)
		}
	}
	if len(parts) == 5 {
		r.NodePubKey = parts[4]
	}

	return r, nil
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(handle, "$"))
}
