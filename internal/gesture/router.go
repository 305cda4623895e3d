package gesture

import (
	"fmt"
	"math"

	"github.com/dunamismax/pixelframe/internal/surface"
)

const (
	ZoomInFactor  = 1.05
	ZoomOutFactor = 0.95
)

type State int

const (
	Idle State = iota
	Dragging
	Pinching
)

func (s State) String() string {
	switch s {
	case Dragging:
		return "dragging"
	case Pinching:
		return "pinching"
	default:
		return "idle"
	}
}

type Kind string

const (
	PointerDown  Kind = "pointerdown"
	PointerMove  Kind = "pointermove"
	PointerUp    Kind = "pointerup"
	PointerLeave Kind = "pointerleave"
	TouchStart   Kind = "touchstart"
	TouchMove    Kind = "touchmove"
	TouchEnd     Kind = "touchend"
	TouchCancel  Kind = "touchcancel"
	Wheel        Kind = "wheel"
)

type Touch struct {
	ID      int     `json:"id"`
	ClientX float64 `json:"client_x"`
	ClientY float64 `json:"client_y"`
}

// Event is one raw input event in client coordinates. Touches lists the
// touch points still on the surface after the event, like TouchEvent.touches.
type Event struct {
	Kind    Kind    `json:"kind"`
	ClientX float64 `json:"client_x,omitempty"`
	ClientY float64 `json:"client_y,omitempty"`
	DeltaY  float64 `json:"delta_y,omitempty"`
	Touches []Touch `json:"touches,omitempty"`
}

func (e Event) Validate() error {
	switch e.Kind {
	case PointerDown, PointerMove, PointerUp, PointerLeave, Wheel:
		return nil
	case TouchStart, TouchMove:
		if len(e.Touches) == 0 {
			return fmt.Errorf("%s requires at least one touch", e.Kind)
		}
		return nil
	case TouchEnd, TouchCancel:
		return nil
	default:
		return fmt.Errorf("unsupported event kind: %q", e.Kind)
	}
}

type Result struct {
	Changed        bool `json:"changed"`
	PreventDefault bool `json:"prevent_default"`
}

func (r Result) merge(o Result) Result {
	return Result{
		Changed:        r.Changed || o.Changed,
		PreventDefault: r.PreventDefault || o.PreventDefault,
	}
}

// Target is the surface a router drives.
type Target interface {
	Placed() bool
	Contains(p surface.Point) bool
	PanBy(dx, dy float64)
	ZoomAtPoint(anchor surface.Point, factor float64) bool
}

// Router turns pointer, touch and wheel events into pan and zoom calls on a
// single target. At most one gesture is active at a time.
type Router struct {
	target   Target
	viewport Viewport

	state         State
	last          surface.Point
	pinchDistance float64
}

func NewRouter(target Target, viewport Viewport) *Router {
	return &Router{target: target, viewport: viewport}
}

func (r *Router) State() State {
	return r.state
}

func (r *Router) Viewport() Viewport {
	return r.viewport
}

// SetViewport updates the on-screen geometry; the element may have been
// resized between event batches.
func (r *Router) SetViewport(v Viewport) {
	r.viewport = v
}

func (r *Router) Reset() {
	r.state = Idle
	r.last = surface.Point{}
	r.pinchDistance = 0
}

func (r *Router) HandleAll(events []Event) Result {
	var out Result
	for _, ev := range events {
		out = out.merge(r.Handle(ev))
	}
	return out
}

func (r *Router) Handle(ev Event) Result {
	if r.target == nil || !r.target.Placed() || !r.viewport.Valid() {
		r.Reset()
		return Result{PreventDefault: ev.Kind == Wheel}
	}

	switch ev.Kind {
	case PointerDown:
		return r.begin(r.viewport.ToFrame(ev.ClientX, ev.ClientY))
	case PointerMove:
		if r.state != Dragging {
			return Result{}
		}
		return r.dragTo(r.viewport.ToFrame(ev.ClientX, ev.ClientY))
	case PointerUp, PointerLeave:
		if r.state == Dragging {
			r.Reset()
		}
		return Result{}
	case TouchStart:
		return r.touchStart(ev.Touches)
	case TouchMove:
		return r.touchMove(ev.Touches)
	case TouchEnd, TouchCancel:
		return r.touchEnd(ev.Touches)
	case Wheel:
		return r.wheel(ev)
	default:
		return Result{}
	}
}

func (r *Router) begin(p surface.Point) Result {
	if r.state != Idle || !r.target.Contains(p) {
		return Result{}
	}
	r.state = Dragging
	r.last = p
	return Result{PreventDefault: true}
}

func (r *Router) dragTo(p surface.Point) Result {
	dx, dy := p.X-r.last.X, p.Y-r.last.Y
	r.last = p
	if dx == 0 && dy == 0 {
		return Result{PreventDefault: true}
	}
	r.target.PanBy(dx, dy)
	return Result{Changed: true, PreventDefault: true}
}

func (r *Router) touchStart(touches []Touch) Result {
	switch {
	case len(touches) >= 2:
		r.startPinch(touches[0], touches[1])
		return Result{PreventDefault: true}
	case len(touches) == 1:
		return r.begin(r.viewport.ToFrame(touches[0].ClientX, touches[0].ClientY))
	default:
		return Result{}
	}
}

func (r *Router) startPinch(a, b Touch) {
	r.state = Pinching
	r.last = surface.Point{}
	r.pinchDistance = distance(a, b)
}

func (r *Router) touchMove(touches []Touch) Result {
	switch {
	case len(touches) >= 2:
		if r.state != Pinching {
			r.startPinch(touches[0], touches[1])
			return Result{PreventDefault: true}
		}
		return r.pinchTo(touches[0], touches[1])
	case len(touches) == 1 && r.state == Dragging:
		return r.dragTo(r.viewport.ToFrame(touches[0].ClientX, touches[0].ClientY))
	default:
		return Result{}
	}
}

func (r *Router) pinchTo(a, b Touch) Result {
	current := distance(a, b)
	if current == 0 {
		return Result{PreventDefault: true}
	}
	if r.pinchDistance == 0 {
		r.pinchDistance = current
		return Result{PreventDefault: true}
	}

	factor := current / r.pinchDistance
	r.pinchDistance = current
	mid := r.viewport.ToFrame((a.ClientX+b.ClientX)/2, (a.ClientY+b.ClientY)/2)
	changed := r.target.ZoomAtPoint(mid, factor)
	return Result{Changed: changed, PreventDefault: true}
}

func (r *Router) touchEnd(remaining []Touch) Result {
	switch r.state {
	case Pinching:
		if len(remaining) >= 2 {
			return Result{PreventDefault: true}
		}
		r.Reset()
		if len(remaining) == 1 {
			r.state = Dragging
			r.last = r.viewport.ToFrame(remaining[0].ClientX, remaining[0].ClientY)
		}
		return Result{PreventDefault: true}
	case Dragging:
		if len(remaining) == 0 {
			r.Reset()
		}
		return Result{}
	default:
		return Result{}
	}
}

func (r *Router) wheel(ev Event) Result {
	var factor float64
	switch {
	case ev.DeltaY < 0:
		factor = ZoomInFactor
	case ev.DeltaY > 0:
		factor = ZoomOutFactor
	default:
		return Result{PreventDefault: true}
	}
	anchor := r.viewport.ToFrame(ev.ClientX, ev.ClientY)
	return Result{Changed: r.target.ZoomAtPoint(anchor, factor), PreventDefault: true}
}

func distance(a, b Touch) float64 {
	return math.Hypot(a.ClientX-b.ClientX, a.ClientY-b.ClientY)
}
