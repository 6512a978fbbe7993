package geometry

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/overlap-mcl/internal/fsutil"
)

// ParsePoses reads one pose per line, each line holding the 12 values of
// the top three rows of the transform.
func ParsePoses(r io.Reader) ([]Pose, error) {
	var poses []Pose
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		p, err := parseRows(text)
		if err != nil {
			return nil, fmt.Errorf("pose line %d: %w", line, err)
		}
		poses = append(poses, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read poses: %w", err)
	}
	return poses, nil
}

// ParseCalib extracts the sensor-to-camera transform from the "Tr:" line
// of a calibration file.
func ParseCalib(r io.Reader) (Pose, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(text, "Tr:") {
			continue
		}
		p, err := parseRows(strings.TrimSpace(strings.TrimPrefix(text, "Tr:")))
		if err != nil {
			return Pose{}, fmt.Errorf("calib Tr: %w", err)
		}
		return p, nil
	}
	if err := sc.Err(); err != nil {
		return Pose{}, fmt.Errorf("read calib: %w", err)
	}
	return Pose{}, fmt.Errorf("calib: no Tr: line")
}

func parseRows(text string) (Pose, error) {
	fields := strings.Fields(text)
	if len(fields) != 12 {
		return Pose{}, fmt.Errorf("want 12 values, got %d", len(fields))
	}
	p := Identity()
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Pose{}, fmt.Errorf("value %d: %w", i, err)
		}
		p[i] = v
	}
	return p, nil
}

// LoadPoses reads a pose file through fsys.
func LoadPoses(fsys fsutil.FileSystem, path string) ([]Pose, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePoses(bytes.NewReader(data))
}

// LoadCalib reads a calibration file through fsys.
func LoadCalib(fsys fsutil.FileSystem, path string) (Pose, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return Pose{}, err
	}
	return ParseCalib(bytes.NewReader(data))
}

// ToSensorFrame re-expresses camera trajectory poses in the sensor frame,
// relative to the first pose: Tr⁻¹ · P0⁻¹ · Pi · Tr.
func ToSensorFrame(poses []Pose, tr Pose) ([]Pose, error) {
	if len(poses) == 0 {
		return nil, nil
	}
	trInv, err := tr.Inverse()
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	p0Inv, err := poses[0].Inverse()
	if err != nil {
		return nil, fmt.Errorf("first pose: %w", err)
	}
	left := trInv.Mul(p0Inv)
	out := make([]Pose, len(poses))
	for i, p := range poses {
		out[i] = left.Mul(p).Mul(tr)
	}
	return out, nil
}
