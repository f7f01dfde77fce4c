package profile

import (
	"fmt"
	"strings"
)

// State is the editor's submission state.
type State int

const (
	StateIdle State = iota
	StateGeocodePending
	StateSubmitting
	StateSucceeded
	StateFailed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateGeocodePending: "geocode_pending",
	StateSubmitting:     "submitting",
	StateSucceeded:      "succeeded",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if strings.EqualFold(name, string(b)) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Snapshot is the profile representation the editor is opened with. It
// matches the API's JSON shape; absent fields decode to zero values.
type Snapshot struct {
	ID           string            `json:"_id"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	ProfilePhoto string            `json:"profilePhoto"`
	Location     *SnapshotLocation `json:"location"`
}

// SnapshotLocation is the location part of a Snapshot.
type SnapshotLocation struct {
	Country string   `json:"country"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

// PhotoKind says what the draft's photo currently is.
type PhotoKind int

const (
	PhotoAbsent   PhotoKind = iota
	PhotoExisting           // an opaque reference to the stored photo
	PhotoUpload             // a newly selected binary payload
)

func (k PhotoKind) String() string {
	switch k {
	case PhotoExisting:
		return "existing"
	case PhotoUpload:
		return "upload"
	default:
		return "absent"
	}
}

// Upload is a photo chosen locally.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Photo is the draft's photo. Ref is set for PhotoExisting, Upload for
// PhotoUpload.
type Photo struct {
	Kind   PhotoKind
	Ref    string
	Upload *Upload
}

// Location holds the selected country and its resolved coordinates. Lat and
// Lng are nil until a lookup for Country has completed.
type Location struct {
	Country string
	Lat     *float64
	Lng     *float64
}

// Resolved reports whether both coordinates are known.
func (l Location) Resolved() bool {
	return l.Lat != nil && l.Lng != nil
}

// Draft is the in-progress edited profile.
type Draft struct {
	ProfileID string
	Name      string
	Email     string
	Photo     Photo
	Location  Location
}

func draftFromSnapshot(seed Snapshot) Draft {
	d := Draft{
		ProfileID: seed.ID,
		Name:      seed.Name,
		Email:     seed.Email,
	}
	if seed.ProfilePhoto != "" {
		d.Photo = Photo{Kind: PhotoExisting, Ref: seed.ProfilePhoto}
	}
	if seed.Location != nil {
		d.Location = Location{
			Country: seed.Location.Country,
			Lat:     copyFloat(seed.Location.Lat),
			Lng:     copyFloat(seed.Location.Lng),
		}
	}
	return d
}

func deepCopyDraft(d Draft) Draft {
	cp := d
	cp.Location.Lat = copyFloat(d.Location.Lat)
	cp.Location.Lng = copyFloat(d.Location.Lng)
	if d.Photo.Upload != nil {
		u := *d.Photo.Upload
		u.Data = append([]byte(nil), d.Photo.Upload.Data...)
		cp.Photo.Upload = &u
	}
	return cp
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
