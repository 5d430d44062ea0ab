package document

import "github.com/kartikbazzad/docstore/internal/errors"

// Projection is either an inclusion list or an exclusion list, parsed
// from the `{field:1,...}` / `{field:0,...}` shapes.
type Projection struct {
	Fields     []string
	Exclude    bool
	SuppressID bool
}

// ParseProjection validates and classifies a raw projection map. Mixing
// inclusions and exclusions (other than `_id:0` alongside inclusions) is
// a configuration error.
func ParseProjection(raw map[string]int) (Projection, error) {
	if len(raw) == 0 {
		return Projection{}, nil
	}
	var includes, excludes []string
	suppressID := false
	for field, flag := range raw {
		switch flag {
		case 1:
			includes = append(includes, field)
		case 0:
			if field == FieldID {
				suppressID = true
				continue
			}
			excludes = append(excludes, field)
		default:
			return Projection{}, errors.NewConfigurationError("projection values must be 0 or 1")
		}
	}
	if len(includes) > 0 && len(excludes) > 0 {
		return Projection{}, errors.NewConfigurationError("cannot mix inclusion and exclusion in projection")
	}
	if len(excludes) > 0 {
		return Projection{Fields: excludes, Exclude: true, SuppressID: suppressID}, nil
	}
	return Projection{Fields: includes, Exclude: false, SuppressID: suppressID}, nil
}

// Apply returns a new Doc honoring the projection.
func (p Projection) Apply(d Doc) Doc {
	if len(p.Fields) == 0 && !p.SuppressID {
		return d
	}
	// An exclusion projection, or an inclusion projection with no
	// inclusions at all (a lone `{_id:0}`), both mean "keep everything
	// except the listed fields".
	if p.Exclude || len(p.Fields) == 0 {
		out := d.Clone()
		for _, f := range p.Fields {
			delete(out, f)
		}
		if p.SuppressID {
			delete(out, FieldID)
		}
		return out
	}
	out := Doc{}
	for _, f := range p.Fields {
		if v, ok := d[f]; ok {
			out[f] = v
		}
	}
	if !p.SuppressID {
		if v, ok := d[FieldID]; ok {
			out[FieldID] = v
		}
	}
	return out
}
