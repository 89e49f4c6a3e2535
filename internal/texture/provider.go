// Package texture turns quadtree node ids into tile requests and applies
// the decoded images to the scene.
package texture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/observability"
	"github.com/mohammed-shakir/wms-lod-stream/internal/fetch"
)

type Kind int

const (
	KindWMS Kind = iota + 1
	KindBing
)

func (k Kind) String() string {
	switch k {
	case KindWMS:
		return "wms"
	case KindBing:
		return "bing"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var ErrConfiguration = errors.New("texture provider configuration")

// DecodeError means the fetched bytes are not a usable image.
type DecodeError struct {
	Key string
	Msg string
	Err error
}

func (e *DecodeError) Error() string {
	s := "decode " + e.Key
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Fetcher is the part of the fetch client providers need.
type Fetcher interface {
	Fetch(url, key string) *fetch.Request
}

// Target receives textures once they decode.
type Target interface {
	SetTexture(id model.NodeID, img image.Image)
}

// Provider fetches the texture of one quadtree node. A provider belongs to
// exactly one node and is only touched from the tick goroutine.
type Provider interface {
	Kind() Kind
	// RequestTexture clears readiness and starts (or joins) the fetch for id.
	RequestTexture(id model.NodeID)
	// RequestPreview is RequestTexture for the root tile.
	RequestPreview()
	// PollAndApply reports whether the provider became ready during the call.
	PollAndApply() bool
	Ready() bool
	// Err is the last fetch or decode failure, nil while healthy.
	Err() error
	NodeID() model.NodeID
	// Key is the request key of the current texture, "" before any request.
	Key() string
	CopyConfigurationTo(dst Provider) error
}

// NewLike returns an unconfigured provider of p's kind sharing p's fetcher
// and logger, applying textures to target.
func NewLike(p Provider, target Target) (Provider, error) {
	switch src := p.(type) {
	case *WMS:
		return NewWMS(src.fetcher, target, src.mapper, src.logger), nil
	case *Bing:
		return NewBing(src.fetcher, target, src.logger), nil
	case nil:
		return nil, fmt.Errorf("%w: no provider", ErrConfiguration)
	}
	return nil, fmt.Errorf("%w: unsupported provider %T", ErrConfiguration, p)
}

func decodeImage(key string, body []byte) (image.Image, error) {
	if len(body) == 0 {
		return nil, &DecodeError{Key: key, Msg: "empty body"}
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, &DecodeError{Key: key, Err: err}
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, &DecodeError{Key: key, Msg: "zero sized image"}
	}
	return img, nil
}

// tile holds the request state shared by every provider kind.
type tile struct {
	kind    Kind
	fetcher Fetcher
	target  Target
	logger  *slog.Logger

	id       model.NodeID
	key      string
	req      *fetch.Request
	ready    bool
	failed   bool
	lastErr  error
	validate func(key string, body []byte) (image.Image, error)
}

func (t *tile) NodeID() model.NodeID { return t.id }
func (t *tile) Key() string          { return t.key }
func (t *tile) Ready() bool          { return t.ready }
func (t *tile) Err() error           { return t.lastErr }

func (t *tile) request(id model.NodeID, url, key string) {
	t.id = id
	t.key = key
	t.ready = false
	t.failed = false
	t.lastErr = nil
	if t.fetcher == nil {
		t.req = nil
		t.fail(fmt.Errorf("%w: no fetcher", ErrConfiguration))
		return
	}
	t.req = t.fetcher.Fetch(url, key)
}

// reject records a request that could not even be built.
func (t *tile) reject(id model.NodeID, err error) {
	t.id = id
	t.key = ""
	t.req = nil
	t.ready = false
	t.fail(err)
}

func (t *tile) poll() bool {
	if t.ready || t.failed || t.req == nil {
		return false
	}
	st := t.req.Status()
	switch st.State {
	case fetch.OK:
		img, err := t.validate(t.key, st.Body)
		if err != nil {
			observability.IncTextureDecodeError(t.kind.String())
			t.fail(err)
			return false
		}
		t.ready = true
		if t.target != nil {
			t.target.SetTexture(t.id, img)
		}
		return true
	case fetch.Error:
		t.fail(st.Err)
	}
	return false
}

// fail parks the tile until the next RequestTexture, logging once.
func (t *tile) fail(err error) {
	t.failed = true
	t.lastErr = err
	t.logger.Warn("texture unavailable",
		"provider", t.kind.String(),
		"node_id", string(t.id),
		"key", t.key,
		"error", err,
	)
}
