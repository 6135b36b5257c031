package shader

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type Stage uint8

const (
	StageUnknown Stage = iota
	StageVertex
	StagePixel
	StageCompute
	StageRayGeneration
	StageRayMiss
	StageRayClosestHit
	StageRayAnyHit
	StageRayIntersection
	StageRayCallable
)

var stageNames = map[Stage]string{
	StageVertex:          "vertex",
	StagePixel:           "pixel",
	StageCompute:         "compute",
	StageRayGeneration:   "raygen",
	StageRayMiss:         "miss",
	StageRayClosestHit:   "closesthit",
	StageRayAnyHit:       "anyhit",
	StageRayIntersection: "intersection",
	StageRayCallable:     "callable",
}

func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// ParseStage accepts the names printed by Stage.String, plus "fragment" for pixel.
func ParseStage(s string) (Stage, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "fragment" {
		return StagePixel, nil
	}
	for stage, name := range stageNames {
		if name == s {
			return stage, nil
		}
	}
	return StageUnknown, fmt.Errorf("unknown shader stage %q", s)
}

// Define is a preprocessor define. An empty Value defines Name without a value.
type Define struct {
	Name  string `toml:"name"`
	Value string `toml:"value,omitempty"`
}

// Environment is everything besides the source that changes compiler output.
// Args are order-sensitive; Defines are not.
type Environment struct {
	Args    []string `toml:"args,omitempty"`
	Defines []Define `toml:"defines,omitempty"`
}

// canonicalDefines sorts defines by name and folds exact duplicates.
// A name given twice with different values is rejected.
func (e Environment) canonicalDefines() ([]Define, error) {
	defines := make([]Define, len(e.Defines))
	copy(defines, e.Defines)
	sort.SliceStable(defines, func(i, j int) bool {
		return defines[i].Name < defines[j].Name
	})

	out := defines[:0]
	for i, d := range defines {
		if d.Name == "" {
			return nil, fmt.Errorf("define #%d has no name: %w", i, core.ErrInvalidShaderDescriptor)
		}
		if n := len(out); n > 0 && out[n-1].Name == d.Name {
			if out[n-1].Value != d.Value {
				return nil, fmt.Errorf("define %s given as %q and %q: %w",
					d.Name, out[n-1].Value, d.Value, core.ErrInvalidShaderDescriptor)
			}
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// KeySize is the width of a Key in bytes.
const KeySize = sha1.Size

// Key identifies a compiled shader variant. Equal keys mean byte-identical
// source, stage, entry point and environment. Key is comparable and can be
// used directly as a map key.
type Key [KeySize]byte

func (k Key) IsZero() bool {
	return k == Key{}
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKey decodes the hex form produced by Key.String.
func ParseKey(s string) (Key, error) {
	var k Key
	if hex.DecodedLen(len(s)) != KeySize {
		return k, fmt.Errorf("shader key %q: want %d hex characters", s, hex.EncodedLen(KeySize))
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return k, fmt.Errorf("shader key %q: %w", s, err)
	}
	return k, nil
}

// keyFormatVersion is written first so that a change of the canonical
// layout never aliases keys persisted by an older build.
const keyFormatVersion = 1

// ComputeShaderKey derives the identity of a shader variant. Defines are
// hashed in name order, so insertion order never changes the key.
// It fails with ErrInvalidShaderDescriptor when source or entryPoint is
// empty, stage is unset or a define is malformed.
func ComputeShaderKey(source []byte, env Environment, stage Stage, entryPoint string) (Key, error) {
	var key Key
	h := sha1.New()
	if err := writeCanonical(h, source, env, stage, entryPoint); err != nil {
		return key, err
	}
	h.Sum(key[:0])
	return key, nil
}

// Fingerprint is a 64-bit FNV-1a digest over the same canonical stream as
// ComputeShaderKey. Caches store it next to each key to detect collisions.
func Fingerprint(source []byte, env Environment, stage Stage, entryPoint string) (uint64, error) {
	h := fnv.New64a()
	if err := writeCanonical(h, source, env, stage, entryPoint); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func writeCanonical(h hash.Hash, source []byte, env Environment, stage Stage, entryPoint string) error {
	switch {
	case len(source) == 0:
		return fmt.Errorf("empty source: %w", core.ErrInvalidShaderDescriptor)
	case !stage.Valid():
		return fmt.Errorf("stage %s: %w", stage, core.ErrInvalidShaderDescriptor)
	case entryPoint == "":
		return fmt.Errorf("empty entry point: %w", core.ErrInvalidShaderDescriptor)
	}
	defines, err := env.canonicalDefines()
	if err != nil {
		return err
	}

	// Every variable-length field is length-prefixed so that no two distinct
	// inputs share a byte stream.
	var buf bytes.Buffer
	buf.WriteByte(keyFormatVersion)
	buf.WriteByte(byte(stage))
	writeString(&buf, entryPoint)
	writeUint(&buf, uint64(len(env.Args)))
	for _, arg := range env.Args {
		writeString(&buf, arg)
	}
	writeUint(&buf, uint64(len(defines)))
	for _, d := range defines {
		writeString(&buf, d.Name)
		writeString(&buf, d.Value)
	}
	writeUint(&buf, uint64(len(source)))
	h.Write(buf.Bytes())
	h.Write(source)
	return nil
}

func writeUint(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint(buf, uint64(len(s)))
	buf.WriteString(s)
}
