package camera

import (
	"fmt"
	"image/color"
	"sort"
	"strings"
)

// RoomSlots is the number of distinct room colours before slots wrap around
const RoomSlots = 16

// Palette holds one colour per layer and entity kind. Colours are
// non-premultiplied; each drawing pass writes them verbatim.
type Palette struct {
	Background    color.NRGBA
	Floor         color.NRGBA
	Wall          color.NRGBA
	Path          color.NRGBA
	PredictedPath color.NRGBA
	Charger       color.NRGBA
	Robot         color.NRGBA
	GoTo          color.NRGBA
	NoGo          color.NRGBA
	NoMop         color.NRGBA
	VirtualWall   color.NRGBA
	ZoneClean     color.NRGBA
	Obstacle      color.NRGBA
	Text          color.NRGBA
	Rooms         [RoomSlots]color.NRGBA
}

// DefaultPalette returns the stock camera colours
func DefaultPalette() Palette {
	return Palette{
		Background:    color.NRGBA{0, 125, 255, 255},
		Floor:         color.NRGBA{135, 206, 250, 255},
		Wall:          color.NRGBA{255, 255, 0, 255},
		Path:          color.NRGBA{238, 247, 255, 255},
		PredictedPath: color.NRGBA{93, 109, 126, 255},
		Charger:       color.NRGBA{255, 128, 0, 255},
		Robot:         color.NRGBA{255, 255, 204, 255},
		GoTo:          color.NRGBA{0, 255, 0, 255},
		NoGo:          color.NRGBA{255, 0, 0, 125},
		NoMop:         color.NRGBA{0, 0, 255, 125},
		VirtualWall:   color.NRGBA{255, 0, 0, 255},
		ZoneClean:     color.NRGBA{255, 255, 255, 125},
		Obstacle:      color.NRGBA{255, 0, 0, 255},
		Text:          color.NRGBA{255, 255, 255, 255},
		Rooms: [RoomSlots]color.NRGBA{
			{135, 206, 250, 255},
			{176, 226, 255, 255},
			{165, 105, 18, 255},
			{164, 211, 238, 255},
			{141, 182, 205, 255},
			{96, 123, 139, 255},
			{224, 255, 255, 255},
			{209, 238, 238, 255},
			{180, 205, 205, 255},
			{122, 139, 139, 255},
			{175, 238, 238, 255},
			{84, 153, 199, 255},
			{133, 193, 233, 255},
			{245, 176, 65, 255},
			{82, 190, 128, 255},
			{72, 201, 176, 255},
		},
	}
}

// Room returns the colour of a 0-indexed room slot, wrapping at RoomSlots
func (p Palette) Room(slot int) color.NRGBA {
	if slot < 0 {
		slot = -slot
	}
	return p.Rooms[slot%RoomSlots]
}

// ActiveRoom blends a room colour towards the zone colour: (2*room + zone) / 3
func (p Palette) ActiveRoom(slot int) color.NRGBA {
	room := p.Room(slot)
	z := p.ZoneClean
	return color.NRGBA{
		R: uint8((2*int(room.R) + int(z.R)) / 3),
		G: uint8((2*int(room.G) + int(z.G)) / 3),
		B: uint8((2*int(room.B) + int(z.B)) / 3),
		A: uint8((2*int(room.A) + int(z.A)) / 3),
	}
}

// WithOverrides returns a copy of the palette with hex colours applied.
// Keys are kind names (floor, wall, path, robot, ...) or room_0 .. room_15.
func (p Palette) WithOverrides(overrides map[string]string) (Palette, error) {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		c, err := ParseHexColor(overrides[key])
		if err != nil {
			return p, fmt.Errorf("colour %q: %w", key, err)
		}
		slot := p.field(key)
		if slot == nil {
			return p, fmt.Errorf("unknown colour key %q", key)
		}
		*slot = c
	}
	return p, nil
}

func (p *Palette) field(key string) *color.NRGBA {
	switch strings.ToLower(key) {
	case "background":
		return &p.Background
	case "floor":
		return &p.Floor
	case "wall":
		return &p.Wall
	case "path":
		return &p.Path
	case "predicted_path":
		return &p.PredictedPath
	case "charger":
		return &p.Charger
	case "robot":
		return &p.Robot
	case "go_to", "goto":
		return &p.GoTo
	case "no_go":
		return &p.NoGo
	case "no_mop":
		return &p.NoMop
	case "virtual_wall":
		return &p.VirtualWall
	case "zone_clean", "zone":
		return &p.ZoneClean
	case "obstacle":
		return &p.Obstacle
	case "text":
		return &p.Text
	}
	var slot int
	if _, err := fmt.Sscanf(key, "room_%d", &slot); err == nil && slot >= 0 && slot < RoomSlots {
		return &p.Rooms[slot]
	}
	return nil
}

// ParseHexColor parses "#RRGGBB" or "#RRGGBBAA"; the alpha defaults to opaque
func ParseHexColor(hex string) (color.NRGBA, error) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")

	var r, g, b uint8
	a := uint8(255)
	var err error
	switch len(hex) {
	case 6:
		_, err = fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b)
	case 8:
		_, err = fmt.Sscanf(hex, "%02x%02x%02x%02x", &r, &g, &b, &a)
	default:
		return color.NRGBA{}, fmt.Errorf("invalid hex colour %q", hex)
	}
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex colour %q: %w", hex, err)
	}
	return color.NRGBA{R: r, G: g, B: b, A: a}, nil
}

// premultiply converts a palette colour into the canvas pixel format
func premultiply(c color.NRGBA) color.RGBA {
	return color.RGBAModel.Convert(c).(color.RGBA)
}
