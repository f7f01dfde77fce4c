package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/connectmytask/taskui/internal/geocode"
	"github.com/connectmytask/taskui/internal/profile"
)

// profileFetcher loads the profile the editor is seeded with. Implemented by
// backend.Client.
type profileFetcher interface {
	GetProfile(ctx context.Context, id, token string) (json.RawMessage, error)
}

type editDeps struct {
	Profiles    profileFetcher
	Updater     profile.Updater
	Geocoder    geocode.Resolver
	Credentials profile.CredentialSource
	Journal     profile.Journal
	Previews    profile.PreviewStore
	Notifier    profile.Notifier
}

// editRequest lists the changes to apply. Nil/empty fields are left alone.
type editRequest struct {
	ProfileID string
	Name      *string
	Country   string
	PhotoPath string
}

func (r editRequest) empty() bool {
	return r.Name == nil && r.Country == "" && r.PhotoPath == ""
}

// runProfileEdit drives one editor session the way the UI would: seed from
// the API, apply the requested edits, wait for the country lookup and
// submit once.
func runProfileEdit(ctx context.Context, deps editDeps, req editRequest) (profile.Outcome, error) {
	if req.ProfileID == "" {
		return profile.Outcome{}, errors.New("--id is required")
	}
	if req.empty() {
		return profile.Outcome{}, errors.New("nothing to change; pass --name, --country or --photo")
	}

	token, err := deps.Credentials.Token()
	if err != nil {
		return profile.Outcome{}, err
	}
	raw, err := deps.Profiles.GetProfile(ctx, req.ProfileID, token)
	if err != nil {
		return profile.Outcome{}, fmt.Errorf("loading profile: %w", err)
	}
	var seed profile.Snapshot
	if err := json.Unmarshal(raw, &seed); err != nil {
		return profile.Outcome{}, fmt.Errorf("decoding profile: %w", err)
	}
	if seed.ID == "" {
		seed.ID = req.ProfileID
	}

	s := profile.Open(profile.Options{
		Geocoder:    deps.Geocoder,
		Updater:     deps.Updater,
		Credentials: deps.Credentials,
		Previews:    deps.Previews,
		Notifier:    deps.Notifier,
		Journal:     deps.Journal,
	}, seed)
	defer s.Close()

	if req.Name != nil {
		if err := s.EditField(profile.FieldName, *req.Name); err != nil {
			return profile.Outcome{}, err
		}
	}

	if req.PhotoPath != "" {
		u, err := readUpload(req.PhotoPath)
		if err != nil {
			return profile.Outcome{}, err
		}
		if _, err := s.SelectPhoto(u); err != nil {
			return profile.Outcome{}, fmt.Errorf("%s: %w", req.PhotoPath, err)
		}
		printStep("Photo %s ready for upload", filepath.Base(req.PhotoPath))
	}

	if req.Country != "" {
		printStep("Locating %s...", req.Country)
		l, err := s.SelectCountry(req.Country)
		if err != nil {
			return profile.Outcome{}, err
		}
		if err := l.Wait(ctx); err != nil {
			return profile.Outcome{}, fmt.Errorf("waiting for country lookup: %w", err)
		}
		if l.Err() == nil {
			c := l.Coordinates()
			printStatus("Coordinates", "%.4f, %.4f", c.Lat, c.Lng)
		}
	}

	return s.Submit(ctx)
}

func readUpload(path string) (profile.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return profile.Upload{}, fmt.Errorf("reading photo: %w", err)
	}
	return profile.Upload{
		Filename:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}
