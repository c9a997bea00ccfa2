package key

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// Domain separates idem key digests from any other SHA-256 use.
	// The version suffix leaves room for a future algorithm change.
	Domain = "idem/key/v1"

	// Prefix starts every derived key.
	Prefix = "idem_"

	// DefaultWindow is the time bucket width when a descriptor sets none.
	DefaultWindow = 30 * time.Minute

	digestChars = 16
)

// ErrInvalidDescriptor is returned for descriptors that cannot be hashed.
var ErrInvalidDescriptor = errors.New("invalid descriptor")

// Key is an opaque idempotency key.
type Key string

func (k Key) String() string { return string(k) }

// Descriptor describes one side-effecting operation.
// It is never persisted; it exists only to derive a Key.
type Descriptor struct {
	Principal string        `json:"principal" validate:"max=256"`
	Resource  string        `json:"resource" validate:"max=256"`
	Action    string        `json:"action" validate:"required,max=128,printascii"`
	Payload   any           `json:"payload,omitempty"`
	Window    time.Duration `json:"window,omitempty"`
}

// Explanation shows the inputs that went into a key.
type Explanation struct {
	Key       Key           `json:"key"`
	Canonical string        `json:"canonical"`
	Bucket    int64         `json:"bucket"`
	Window    time.Duration `json:"window"`
	At        time.Time     `json:"at"`
}

// Deriver computes keys. The zero value is not usable; use NewDeriver.
//
// Thread-safety: Deriver is safe for concurrent use.
type Deriver struct {
	now      func() time.Time
	window   time.Duration
	validate *validator.Validate
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithNow sets the time source used by Derive.
func WithNow(now func() time.Time) Option {
	return func(d *Deriver) {
		d.now = now
	}
}

// WithDefaultWindow sets the bucket width for descriptors without one.
func WithDefaultWindow(w time.Duration) Option {
	return func(d *Deriver) {
		if w > 0 {
			d.window = w
		}
	}
}

// NewDeriver creates a Deriver using wall-clock time and DefaultWindow.
func NewDeriver(opts ...Option) *Deriver {
	d := &Deriver{
		now:      time.Now,
		window:   DefaultWindow,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Derive computes the key for desc at the current time.
func (d *Deriver) Derive(desc Descriptor) (Key, error) {
	return d.DeriveAt(desc, d.now())
}

// DeriveAt computes the key for desc as if evaluated at t.
func (d *Deriver) DeriveAt(desc Descriptor, t time.Time) (Key, error) {
	exp, err := d.Explain(desc, t)
	if err != nil {
		return "", err
	}
	return exp.Key, nil
}

// Explain derives the key for desc at t and returns the intermediate values.
func (d *Deriver) Explain(desc Descriptor, t time.Time) (Explanation, error) {
	window, err := d.check(desc)
	if err != nil {
		return Explanation{}, err
	}

	payload, err := normalize(desc.Payload)
	if err != nil {
		return Explanation{}, err
	}
	var canonical bytes.Buffer
	if err := writeCanonical(&canonical, payload, 0); err != nil {
		return Explanation{}, err
	}

	bucket := Bucket(t, window)
	var material bytes.Buffer
	err = writeCanonical(&material, map[string]any{
		"principal": desc.Principal,
		"resource":  desc.Resource,
		"action":    desc.Action,
		"payload":   payload,
		"bucket":    bucket,
	}, 0)
	if err != nil {
		return Explanation{}, err
	}

	return Explanation{
		Key:       Key(Prefix + desc.Action + "_" + hashWithDomain(Domain, material.Bytes())[:digestChars]),
		Canonical: canonical.String(),
		Bucket:    bucket,
		Window:    window,
		At:        t,
	}, nil
}

// check validates desc and resolves its window.
func (d *Deriver) check(desc Descriptor) (time.Duration, error) {
	if err := d.validate.Struct(desc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return 0, fmt.Errorf("%w: %s", ErrInvalidDescriptor, strings.Join(fields, ", "))
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	window := desc.Window
	if window == 0 {
		window = d.window
	}
	if window < time.Minute {
		return 0, fmt.Errorf("%w: window %s is shorter than one minute", ErrInvalidDescriptor, window)
	}
	return window, nil
}

// Bucket returns floor(epochMinutes(t) / windowMinutes).
// Windows are truncated to whole minutes.
func Bucket(t time.Time, window time.Duration) int64 {
	minutes := floorDiv(t.UnixMilli(), int64(time.Minute/time.Millisecond))
	width := int64(window / time.Minute)
	if width < 1 {
		width = 1
	}
	return floorDiv(minutes, width)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null byte prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
