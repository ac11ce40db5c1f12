package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/your-org/lakestage/pkg/catalogstore"
)

// ProfileStore is the registry's persistence contract. The store is
// externally administered; the pipeline only reads it.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*DataSourceProfile, error)
	ListProfiles(ctx context.Context) ([]*DataSourceProfile, error)
	PutProfile(ctx context.Context, profile *DataSourceProfile) error
}

// ErrProfileNotFound is returned by ProfileStore.GetProfile for unknown ids.
var ErrProfileNotFound = errors.New("profile not found")

// Registry resolves data-source profiles for incoming raw-area object paths.
type Registry struct {
	store ProfileStore
}

// NewRegistry constructs a Registry over the given store.
func NewRegistry(store ProfileStore) *Registry {
	return &Registry{store: store}
}

// Resolve selects the single profile whose path pattern matches objectPath.
//
// A pattern without regex wildcards matches any object under "<pattern>/".
// Wildcard patterns are matched as anchored regular expressions against the
// whole path; when several match, the pattern whose first wildcard segment
// sits deepest wins. No match, or a tie at the deepest wildcard, yields
// ErrUnrecognizedSource.
func (r *Registry) Resolve(ctx context.Context, objectPath string) (*DataSourceProfile, error) {
	profiles, err := r.store.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	var matches []*DataSourceProfile
	for _, p := range profiles {
		ok, err := patternMatches(p.PathPattern, objectPath)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", p.ID, err)
		}
		if ok {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 0:
		return nil, ErrUnrecognizedSource
	case 1:
		return matches[0], nil
	}
	return mostSpecific(matches)
}

func patternMatches(pattern, objectPath string) (bool, error) {
	if !hasWildcard(pattern) {
		return strings.HasPrefix(objectPath, pattern+"/"), nil
	}
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return false, fmt.Errorf("invalid pathPattern: %w", err)
	}
	return re.MatchString(objectPath), nil
}

var literalSegment = regexp.MustCompile(`^[a-zA-Z0-9\-_.'()+]+$`)

func hasWildcard(pattern string) bool {
	for _, seg := range strings.Split(pattern, "/") {
		if !literalSegment.MatchString(seg) {
			return true
		}
	}
	return false
}

// wildcardDepth returns the index of the first non-literal path segment.
// Literal-only patterns sort deeper than any wildcard pattern.
func wildcardDepth(pattern string) int {
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if !literalSegment.MatchString(seg) {
			return i
		}
	}
	return len(segments)
}

func mostSpecific(matches []*DataSourceProfile) (*DataSourceProfile, error) {
	deepest := -1
	count := 0
	var winner *DataSourceProfile
	for _, p := range matches {
		depth := wildcardDepth(p.PathPattern)
		switch {
		case depth > deepest:
			deepest = depth
			count = 1
			winner = p
		case depth == deepest:
			count++
		}
	}
	if count != 1 {
		// Ambiguous registration, indistinguishable from no registration
		// as far as the pipeline is concerned.
		return nil, ErrUnrecognizedSource
	}
	return winner, nil
}

const profileKeyPrefix = "profile/"

// BadgerProfileStore persists profiles as JSON in the catalog store.
type BadgerProfileStore struct {
	kv *catalogstore.Store
}

// NewBadgerProfileStore constructs a ProfileStore over kv.
func NewBadgerProfileStore(kv *catalogstore.Store) *BadgerProfileStore {
	return &BadgerProfileStore{kv: kv}
}

func (s *BadgerProfileStore) GetProfile(ctx context.Context, id string) (*DataSourceProfile, error) {
	value, err := s.kv.Get([]byte(profileKeyPrefix + id))
	if errors.Is(err, catalogstore.ErrKeyNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	var profile DataSourceProfile
	if err := json.Unmarshal(value, &profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return &profile, nil
}

func (s *BadgerProfileStore) ListProfiles(ctx context.Context) ([]*DataSourceProfile, error) {
	var profiles []*DataSourceProfile
	err := s.kv.List([]byte(profileKeyPrefix), func(key, value []byte) error {
		var profile DataSourceProfile
		if err := json.Unmarshal(value, &profile); err != nil {
			return fmt.Errorf("decode profile %s: %w", key, err)
		}
		profiles = append(profiles, &profile)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

func (s *BadgerProfileStore) PutProfile(ctx context.Context, profile *DataSourceProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", profile.ID, err)
	}
	return s.kv.Put([]byte(profileKeyPrefix+profile.ID), value)
}
