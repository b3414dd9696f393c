package query

import (
	"sort"
	"strings"

	"github.com/m4xw311/cadlink/cad"
)

type enumerator func(d cad.Design) []cad.Entity

// kinds maps the lower-cased entity kind to its canonical name and
// enumerator.
var kinds = map[string]struct {
	name string
	list enumerator
}{
	"component":         {"Component", components},
	"occurrence":        {"Occurrence", occurrences},
	"brepbody":          {"BRepBody", bodies},
	"brepedge":          {"BRepEdge", edges},
	"brepface":          {"BRepFace", faces},
	"sketch":            {"Sketch", sketches},
	"sketchcurve":       {"SketchCurve", sketchCurves},
	"profile":           {"Profile", profiles},
	"joint":             {"Joint", joints},
	"jointorigin":       {"JointOrigin", jointOrigins},
	"constructionplane": {"ConstructionPlane", planes},
	"constructionaxis":  {"ConstructionAxis", axes},
	"parameter":         {"Parameter", parameters},
	"appearance":        {"Appearance", appearances},
	"material":          {"Material", materials},
	"timelineitem":      {"TimelineItem", timelineItems},
}

var aliases = map[string]string{
	"body":     "brepbody",
	"edge":     "brepedge",
	"face":     "brepface",
	"plane":    "constructionplane",
	"axis":     "constructionaxis",
	"timeline": "timelineitem",
}

// Kinds returns the canonical entity kind names, sorted.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, k.name)
	}
	sort.Strings(out)
	return out
}

// lookupKind resolves a kind name case-insensitively.
func lookupKind(name string) (string, enumerator, bool) {
	key := strings.ToLower(name)
	if a, ok := aliases[key]; ok {
		key = a
	}
	k, ok := kinds[key]
	if !ok {
		return "", nil, false
	}
	return k.name, k.list, true
}

// Enumerate lists the live entities of a kind in d.
func Enumerate(d cad.Design, kind string) ([]cad.Entity, bool) {
	_, list, ok := lookupKind(kind)
	if !ok {
		return nil, false
	}
	return list(d), true
}

func collect[T cad.Entity](items []T) []cad.Entity {
	out := make([]cad.Entity, 0, len(items))
	for _, it := range items {
		if cad.Alive(it) {
			out = append(out, it)
		}
	}
	return out
}

func eachComponent[T cad.Entity](d cad.Design, f func(cad.Component) []T) []cad.Entity {
	var out []cad.Entity
	for _, c := range d.AllComponents() {
		out = append(out, collect(f(c))...)
	}
	return out
}

func components(d cad.Design) []cad.Entity  { return collect(d.AllComponents()) }
func occurrences(d cad.Design) []cad.Entity { return collect(d.AllOccurrences()) }
func parameters(d cad.Design) []cad.Entity  { return collect(d.AllParameters()) }
func appearances(d cad.Design) []cad.Entity { return collect(d.Appearances()) }
func materials(d cad.Design) []cad.Entity   { return collect(d.Materials()) }

func timelineItems(d cad.Design) []cad.Entity { return collect(d.Timeline().Items()) }

func bodies(d cad.Design) []cad.Entity {
	return eachComponent(d, func(c cad.Component) []cad.Body { return c.Bodies() })
}

func edges(d cad.Design) []cad.Entity {
	return eachComponent(d, func(c cad.Component) []cad.Edge {
		var out []cad.Edge
		for _, b := range c.Bodies() {
			out = append(out, b.Edges()...)
		}
		return out
	})
}

func faces(d cad.Design) []cad.Entity {
	return eachComponent(d, func(c cad.Component) []cad.Face {
		var out []cad.Face
		for _, b := range c.Bodies() {
			out = append(out, b.Faces()...)
		}
		return out
	})
}

func sketches(d cad.Design) []cad.Entity {
	return eachComponent(d, func(c cad.Component) []cad.Sketch { return c.Sketches() })
}

func sketchCurves(d cad.Design) []cad.Entity {
	return eachComponent(d, func(c cad.Component) []cad.SketchCurve {
		var out []cad.SketchCurve
		for _, s := range c.Sketches() {
			out = append(out, s.SketchCurves()...)
		}
		return out
	})
}

func profiles(d cad.Design) []cad.Entity {
	return eachComponent(d, func(c cad.Component) []cad.Profile {
		var out []cad.Profile
		for _, s := range c.Sketches() {
			out = append(out, s.Profiles()...)
		}
		return out
	})
}

func joints(d cad.Design) []cad.Entity {
	return eachComponent(d, func(c cad.Component) []cad.Joint { return c.Joints() })
}

func jointOrigins(d cad.Design) []cad.Entity {
	return eachComponent(d, func(c cad.Component) []cad.JointOrigin { return c.JointOrigins() })
}

func planes(d cad.Design) []cad.Entity {
	return eachComponent(d, func(c cad.Component) []cad.ConstructionPlane { return c.ConstructionPlanes() })
}

func axes(d cad.Design) []cad.Entity {
	return eachComponent(d, func(c cad.Component) []cad.ConstructionAxis { return c.ConstructionAxes() })
}
