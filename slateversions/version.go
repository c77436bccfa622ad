package slateversions

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mwcore/mwwallet/slate"
)

// Version is the wire version of a serialized slate.
type Version uint16

const (
	// V2 is the oldest supported version. Legacy JSON without payment
	// proofs and TTL.
	V2 Version = 2

	// V3 adds payment proofs and the TTL cutoff height to V2.
	V3 Version = 3

	// V4 is the compact version, in JSON or binary form. It carries the
	// state explicitly, drops participant messages and adds NRD kernels.
	V4 Version = 4

	// CurrentVersion is the version new slates are encoded with.
	CurrentVersion = V4

	// BlockHeaderVersion is the block header version the slates are
	// built for.
	BlockHeaderVersion = 3
)

var (
	// ErrVersionIncompatible is returned when a slate can't be expressed
	// at the requested version without dropping a field that matters for
	// correctness.
	ErrVersionIncompatible = errors.New("slate version incompatible")

	// ErrUnknownVersion is returned for version tags this package doesn't
	// support, or payloads without a version tag.
	ErrUnknownVersion = errors.New("unknown slate version")

	// ErrMalformedSlate is returned when a payload can't be decoded at the
	// version it claims.
	ErrMalformedSlate = errors.New("malformed slate")
)

// SupportedVersions lists every version Encode accepts, oldest first.
var SupportedVersions = []Version{V2, V3, V4}

// String returns the version as V<n>.
func (v Version) String() string {
	return fmt.Sprintf("V%d", uint16(v))
}

// ParseVersion parses a version in its V<n> or plain numeric form.
func ParseVersion(s string) (Version, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "V"), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownVersion, s)
	}

	v := Version(n)
	if !v.supported() {
		return 0, fmt.Errorf("%w: %v", ErrUnknownVersion, v)
	}

	return v, nil
}

func (v Version) supported() bool {
	for _, s := range SupportedVersions {
		if s == v {
			return true
		}
	}

	return false
}

// Encode serializes the slate as JSON at the given version, failing with
// ErrVersionIncompatible if that would drop information required for
// correctness.
func Encode(s *slate.Slate, v Version) ([]byte, error) {
	switch v {
	case V2, V3:
		legacy, err := toLegacy(s, v)
		if err != nil {
			return nil, err
		}

		return json.Marshal(legacy)

	case V4:
		compact, err := toV4(s)
		if err != nil {
			return nil, err
		}

		return json.Marshal(compact)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownVersion, v)
	}
}

// versionProbe reads just the version tags of a JSON slate.
type versionProbe struct {
	Ver         string `json:"ver"`
	VersionInfo *struct {
		Version u64Str `json:"version"`
	} `json:"version_info"`
}

// Decode parses a slate in any supported version and form, detected from the
// explicit version tag, and upgrades it to the in-memory representation. The
// version the slate was encoded with is returned so replies can use it.
func Decode(b []byte) (*slate.Slate, Version, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil, 0, fmt.Errorf("%w: empty payload", ErrMalformedSlate)
	}

	if trimmed[0] != '{' {
		s, err := DecodeBinary(b)
		if err != nil {
			return nil, 0, err
		}

		return s, V4, nil
	}

	var probe versionProbe
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedSlate, err)
	}

	switch {
	case probe.Ver != "":
		v, err := parseV4Tag(probe.Ver)
		if err != nil {
			return nil, 0, err
		}

		var compact slateV4
		if err := json.Unmarshal(trimmed, &compact); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrMalformedSlate,
				err)
		}
		s, err := fromV4(&compact)
		if err != nil {
			return nil, 0, err
		}

		return s, v, nil

	case probe.VersionInfo != nil:
		v := Version(probe.VersionInfo.Version)
		if v != V2 && v != V3 {
			return nil, 0, fmt.Errorf("%w: legacy %v",
				ErrUnknownVersion, v)
		}

		var legacy slateLegacy
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrMalformedSlate,
				err)
		}
		s, err := fromLegacy(&legacy, v)
		if err != nil {
			return nil, 0, err
		}

		return s, v, nil

	default:
		return nil, 0, fmt.Errorf("%w: no version tag", ErrUnknownVersion)
	}
}

// v4Tag returns the "<version>:<block header version>" tag of V4 slates.
func v4Tag() string {
	return fmt.Sprintf("%d:%d", V4, BlockHeaderVersion)
}

func parseV4Tag(tag string) (Version, error) {
	parts := strings.Split(tag, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: tag %q", ErrUnknownVersion, tag)
	}

	n, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || Version(n) != V4 {
		return 0, fmt.Errorf("%w: tag %q", ErrUnknownVersion, tag)
	}
	if _, err := strconv.ParseUint(parts[1], 10, 16); err != nil {
		return 0, fmt.Errorf("%w: tag %q", ErrUnknownVersion, tag)
	}

	return V4, nil
}

// binaryHeader is the version prefix of binary slates.
func binaryHeader() []byte {
	var h [4]byte
	binary.BigEndian.PutUint16(h[:2], uint16(V4))
	binary.BigEndian.PutUint16(h[2:], BlockHeaderVersion)

	return h[:]
}
