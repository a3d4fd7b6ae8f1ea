package patch

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Read locates the `.pgconf` section in image and decodes the embedded
// ClientConfig it holds. It fails with ErrSentinelMissing if the section
// still holds the pristine build sentinel (no config embedded yet) or
// does not look like a previously patched payload (§4.1, §7).
func Read(image []byte) (ClientConfig, error) {
	r, err := locateSection(image)
	if err != nil {
		return ClientConfig{}, err
	}
	region, err := sectionBytes(image, r)
	if err != nil {
		return ClientConfig{}, err
	}

	if isSentinel(region) {
		return ClientConfig{}, fmt.Errorf("%w: section holds the unpatched build sentinel", ErrSentinelMissing)
	}

	payload, err := validatedPayload(region)
	if err != nil {
		return ClientConfig{}, err
	}
	return UnmarshalClientConfig(payload)
}

// Write returns a copy of image with its `.pgconf` section replaced by
// cfg, serialized and length-prefixed per §6. The returned image is
// byte-identical to input except within that section: file size, section
// table, and every other offset are untouched, and the operation is
// idempotent — calling Write again with the same cfg reproduces the same
// bytes (§8 property 5).
func Write(image []byte, cfg ClientConfig) ([]byte, error) {
	r, err := locateSection(image)
	if err != nil {
		return nil, err
	}
	region, err := sectionBytes(image, r)
	if err != nil {
		return nil, err
	}

	if !isSentinel(region) {
		if _, err := validatedPayload(region); err != nil {
			return nil, err
		}
	}

	payload, err := cfg.Marshal()
	if err != nil {
		return nil, err
	}
	if len(payload) > CapacityBytes-8 {
		return nil, fmt.Errorf("%w: %d bytes exceeds capacity %d", ErrConfigTooLarge, len(payload), CapacityBytes-8)
	}

	newRegion := make([]byte, CapacityBytes)
	binary.LittleEndian.PutUint64(newRegion[:8], uint64(len(payload)))
	copy(newRegion[8:], payload)

	out := make([]byte, len(image))
	copy(out, image)
	copy(out[r.offset:r.offset+r.size], newRegion)
	return out, nil
}

// Clone copies the embedded config out of src and writes it into dst,
// regardless of whether the two images share an executable format (§4.1
// clone-cli). It fails with ErrUnsupportedFormat if dst's format is not
// recognized or dst has no `.pgconf` section of the expected capacity;
// in the latter case the error also matches ErrSectionNotFound (§9 open
// question (c)).
func Clone(src, dst []byte) ([]byte, error) {
	cfg, err := Read(src)
	if err != nil {
		return nil, err
	}
	out, err := Write(dst, cfg)
	if errors.Is(err, ErrSectionNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	return out, err
}

func sectionBytes(image []byte, r region) ([]byte, error) {
	if r.size != CapacityBytes {
		return nil, fmt.Errorf("%w: section size %d does not match expected capacity %d", ErrSectionNotFound, r.size, CapacityBytes)
	}
	if r.offset < 0 || r.offset+r.size > int64(len(image)) {
		return nil, fmt.Errorf("%w: section extends past end of image", ErrSectionNotFound)
	}
	return image[r.offset : r.offset+r.size], nil
}

func isSentinel(region []byte) bool {
	return len(region) >= len(Sentinel) && bytes.Equal(region[:len(Sentinel)], Sentinel[:])
}

// validatedPayload recognizes an already-patched region: a u64 LE length
// prefix whose declared length fits the remaining capacity.
func validatedPayload(region []byte) ([]byte, error) {
	if len(region) < 8 {
		return nil, fmt.Errorf("%w: section smaller than length prefix", ErrSentinelMissing)
	}
	n := binary.LittleEndian.Uint64(region[:8])
	if n > uint64(len(region)-8) {
		return nil, fmt.Errorf("%w: declared length %d exceeds capacity", ErrSentinelMissing, n)
	}
	return region[8 : 8+n], nil
}
