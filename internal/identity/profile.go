package identity

import (
	"errors"

	"github.com/tidwall/gjson"
)

// UnknownUser is shown when a user cannot be resolved.
const UnknownUser = "Unknown User"

// ErrMalformedResponse is returned for directory responses that are not JSON.
var ErrMalformedResponse = errors.New("malformed directory response")

// Profile is a directory user reduced to the fields pare uses.
type Profile struct {
	ID                string
	DisplayName       string
	Mail              string
	SamAccountName    string
	UserPrincipalName string
	ProfileImage      string
}

// Name is the best available display name: display name, then mail, then
// account name, then principal name.
func (p Profile) Name() string {
	for _, name := range []string{p.DisplayName, p.Mail, p.SamAccountName, p.UserPrincipalName} {
		if name != "" {
			return name
		}
	}
	return UnknownUser
}

// Username is the account name, falling back to the principal name.
func (p Profile) Username() string {
	if p.SamAccountName != "" {
		return p.SamAccountName
	}
	return p.UserPrincipalName
}

// NormalizeUsers extracts user profiles from a directory response. Accepted
// shapes are a bare array, an object wrapping an array in "value" or "data",
// an object wrapping a single user in "value", and a single user object.
// Anything else yields no profiles.
func NormalizeUsers(raw []byte) ([]Profile, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformedResponse
	}

	root := gjson.ParseBytes(raw)
	var entries []gjson.Result
	switch {
	case root.IsArray():
		entries = root.Array()
	case !root.IsObject():
		return nil, nil
	case root.Get("value").IsArray():
		entries = root.Get("value").Array()
	case root.Get("data").IsArray():
		entries = root.Get("data").Array()
	case root.Get("value").IsObject():
		entries = []gjson.Result{root.Get("value")}
	default:
		entries = []gjson.Result{root}
	}

	profiles := make([]Profile, 0, len(entries))
	for _, e := range entries {
		if !e.IsObject() {
			continue
		}
		profiles = append(profiles, parseProfile(e))
	}
	return profiles, nil
}

// normalizeUser returns the first profile of a single-user response.
func normalizeUser(raw []byte) (Profile, bool, error) {
	profiles, err := NormalizeUsers(raw)
	if err != nil || len(profiles) == 0 {
		return Profile{}, false, err
	}
	return profiles[0], true, nil
}

func parseProfile(r gjson.Result) Profile {
	return Profile{
		ID:                r.Get("id").String(),
		DisplayName:       r.Get("displayName").String(),
		Mail:              r.Get("mail").String(),
		SamAccountName:    r.Get("onPremisesSamAccountName").String(),
		UserPrincipalName: r.Get("userPrincipalName").String(),
		ProfileImage:      firstString(r, "profilePicture", "photo", "thumbnailPhoto"),
	}
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
