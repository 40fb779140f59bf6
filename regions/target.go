package regions

import (
	"context"
	"fmt"

	"github.com/hazyhaar/vgrid/geometry"
)

// Kind is the comparison treatment applied to a region.
type Kind int

const (
	Ignore Kind = iota
	Layout
	Strict
	Content
	Floating
	Accessibility
)

var kindNames = [...]string{"ignore", "layout", "strict", "content", "floating", "accessibility"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// FloatingBounds is how far a floating region may move.
type FloatingBounds struct {
	MaxUp    int `json:"maxUpOffset"`
	MaxDown  int `json:"maxDownOffset"`
	MaxLeft  int `json:"maxLeftOffset"`
	MaxRight int `json:"maxRightOffset"`
}

// AccessibilityType classifies accessibility regions.
type AccessibilityType string

const (
	RegularText     AccessibilityType = "RegularText"
	LargeText       AccessibilityType = "LargeText"
	BoldText        AccessibilityType = "BoldText"
	GraphicalObject AccessibilityType = "GraphicalObject"
)

// Target pairs a source with its treatment.
type Target struct {
	Kind          Kind
	Source        Source
	Floating      FloatingBounds
	Accessibility AccessibilityType
}

// FloatingRegion is a resolved floating region.
type FloatingRegion struct {
	geometry.Region
	FloatingBounds
}

// AccessibilityRegion is a resolved accessibility region.
type AccessibilityRegion struct {
	geometry.Region
	Type AccessibilityType `json:"accessibilityType"`
}

// Resolved groups resolved regions by kind.
type Resolved struct {
	Ignore        []geometry.Region
	Layout        []geometry.Region
	Strict        []geometry.Region
	Content       []geometry.Region
	Floating      []FloatingRegion
	Accessibility []AccessibilityRegion
	// Selectors lists BySelector sources, in order, for services that
	// locate regions themselves.
	Selectors []string
}

// ResolveAll resolves every target against c.
func ResolveAll(ctx context.Context, c Context, targets []Target) (Resolved, error) {
	var out Resolved
	for _, t := range targets {
		if t.Source == nil {
			continue
		}
		if s, ok := t.Source.(BySelector); ok {
			out.Selectors = append(out.Selectors, s.Selector)
		}
		rs, err := t.Source.Resolve(ctx, c)
		if err != nil {
			return Resolved{}, fmt.Errorf("regions: %s: %w", t.Kind, err)
		}
		for _, r := range rs {
			switch t.Kind {
			case Ignore:
				out.Ignore = append(out.Ignore, r)
			case Layout:
				out.Layout = append(out.Layout, r)
			case Strict:
				out.Strict = append(out.Strict, r)
			case Content:
				out.Content = append(out.Content, r)
			case Floating:
				out.Floating = append(out.Floating, FloatingRegion{Region: r, FloatingBounds: t.Floating})
			case Accessibility:
				out.Accessibility = append(out.Accessibility, AccessibilityRegion{Region: r, Type: t.Accessibility})
			default:
				return Resolved{}, fmt.Errorf("regions: unknown kind %d", int(t.Kind))
			}
		}
	}
	return out, nil
}

// Selectors returns the selectors of every BySelector target.
func Selectors(targets []Target) []string {
	var out []string
	for _, t := range targets {
		if s, ok := t.Source.(BySelector); ok {
			out = append(out, s.Selector)
		}
	}
	return out
}
