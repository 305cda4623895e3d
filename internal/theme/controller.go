package theme

import "fmt"

type Mode string

const (
	Simple Mode = "simple"
	Custom Mode = "custom"
)

// State is the serializable form of a Controller.
type State struct {
	Mode   Mode   `json:"mode" toml:"mode"`
	Preset int    `json:"preset" toml:"preset"`
	Custom Colors `json:"custom" toml:"custom"`
}

// Controller tracks which colors are applied to a poster. Exactly one source
// is active: the selected preset in simple mode, the custom fields otherwise.
type Controller struct {
	mode     Mode
	selected int
	custom   Colors
	active   Colors
}

func NewController() *Controller {
	first := presets[0].Colors
	return &Controller{
		mode:   Simple,
		custom: first,
		active: first,
	}
}

func Restore(s State) (*Controller, error) {
	c := NewController()
	if s.Mode == "" {
		s.Mode = Simple
	}
	if _, err := PresetAt(s.Preset); err != nil {
		return nil, err
	}
	c.selected = s.Preset
	c.active = presets[s.Preset].Colors

	switch s.Mode {
	case Simple:
		if s.Custom != (Colors{}) {
			if err := s.Custom.Validate(); err != nil {
				return nil, fmt.Errorf("custom colors: %w", err)
			}
			c.custom = s.Custom
		}
	case Custom:
		if err := s.Custom.Validate(); err != nil {
			return nil, fmt.Errorf("custom colors: %w", err)
		}
		c.mode = Custom
		c.custom = s.Custom
		c.active = s.Custom
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, s.Mode)
	}
	return c, nil
}

func (c *Controller) State() State {
	return State{Mode: c.mode, Preset: c.selected, Custom: c.custom}
}

func (c *Controller) Mode() Mode {
	return c.mode
}

func (c *Controller) Selected() int {
	return c.selected
}

func (c *Controller) Active() Colors {
	return c.active
}

func (c *Controller) Custom() Colors {
	return c.custom
}

// SelectPreset records the preset choice. It is applied right away in simple
// mode and on the next switch back to simple mode otherwise.
func (c *Controller) SelectPreset(i int) error {
	p, err := PresetAt(i)
	if err != nil {
		return err
	}
	c.selected = i
	if c.mode == Simple {
		c.active = p.Colors
	}
	return nil
}

func (c *Controller) SetMode(m Mode) error {
	switch m {
	case Simple:
		c.mode = Simple
		c.active = presets[c.selected].Colors
	case Custom:
		if c.mode != Custom {
			c.custom = c.active
		}
		c.mode = Custom
		c.active = c.custom
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, m)
	}
	return nil
}

// SetCustom edits one custom field and re-applies the whole custom theme.
func (c *Controller) SetCustom(f Field, hex string) error {
	if c.mode != Custom {
		return ErrNotCustomMode
	}
	next, err := c.custom.With(f, hex)
	if err != nil {
		return err
	}
	c.custom = next
	c.active = next
	return nil
}
