package mesh

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/achilleasa/go-rtcore/log"
	"github.com/achilleasa/go-rtcore/types"
)

type wavefrontReader struct {
	logger log.Logger

	// Parsed meshes.
	meshes []*Mesh

	// Maps global vertex indices to indices into the last mesh's vertex list.
	vertexRemap map[int]uint32

	// Global vertex list. Normals and uv coords are counted so that face
	// references can be validated but their values are not kept.
	vertexList  []types.Vec3
	normalCount int
	uvCount     int

	// An error stack that provides additional error information when
	// files include other files.
	errStack []string
}

// Read meshes from a wavefront .obj file. Faces with 3 or 4 vertices are
// supported; quads are split into two triangles. Each "g" or "o" statement
// starts a new mesh and meshes without faces are dropped.
func ReadWavefront(res *Resource) ([]*Mesh, error) {
	r := &wavefrontReader{
		logger: log.New("wavefront reader"),
	}

	r.logger.Noticef(`parsing meshes from "%s"`, res.Path())
	start := time.Now()

	if err := r.parse(res); err != nil {
		return nil, err
	}

	tris := 0
	for _, m := range r.meshes {
		tris += m.TriangleCount()
	}
	r.logger.Noticef("parsed %d mesh(es) with %d triangles in %d ms", len(r.meshes), tris, time.Since(start).Nanoseconds()/1e6)
	return r.meshes, nil
}

// Open and read a wavefront file from a local path or URL.
func ReadWavefrontFile(path string) ([]*Mesh, error) {
	res, err := NewResource(path, nil)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	return ReadWavefront(res)
}

// Generate an error message that also includes any data in the error stack.
func (r *wavefrontReader) emitError(file string, line int, msgFormat string, args ...interface{}) error {
	msg := fmt.Sprintf(msgFormat, args...)
	return fmt.Errorf("%s", strings.Trim(
		fmt.Sprintf("[%s: %d] error: %s\n%s", file, line, msg, strings.Join(r.errStack, "\n")),
		"\n",
	))
}

func (r *wavefrontReader) pushFrame(msg string) {
	r.errStack = append([]string{msg}, r.errStack...)
}

func (r *wavefrontReader) popFrame() {
	r.errStack = r.errStack[1:]
}

func (r *wavefrontReader) startMesh(name string) {
	r.dropEmptyMesh()
	r.meshes = append(r.meshes, &Mesh{Name: name})
	r.vertexRemap = make(map[int]uint32)
}

func (r *wavefrontReader) parse(res *Resource) error {
	lineNum := 0

	// Included files use 1-based indices relative to their own vertices.
	relVertexOffset := len(r.vertexList)
	relUvOffset := r.uvCount
	relNormalOffset := r.normalCount

	scanner := bufio.NewScanner(res)
	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}

		switch lineTokens[0] {
		case "call":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "call"; expected 1 argument; got %d`, len(lineTokens)-1)
			}

			r.pushFrame(fmt.Sprintf("referenced from %s:%d [call]", res.Path(), lineNum))
			incRes, err := NewResource(lineTokens[1], res)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			err = r.parse(incRes)
			incRes.Close()
			if err != nil {
				return err
			}
			r.popFrame()
		case "v":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.vertexList = append(r.vertexList, v)
		case "vn":
			r.normalCount++
		case "vt":
			r.uvCount++
		case "g", "o":
			if len(lineTokens) < 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "%s"; expected 1 argument for object name; got %d`, lineTokens[0], len(lineTokens)-1)
			}
			r.startMesh(lineTokens[1])
		case "f":
			if len(r.meshes) == 0 {
				r.startMesh("default")
			}
			if err := r.parseFace(lineTokens, relVertexOffset, relUvOffset, relNormalOffset); err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
		case "mtllib", "usemtl", "s":
			r.logger.Debugf("[%s: %d] ignoring %q statement", res.Path(), lineNum, lineTokens[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return r.emitError(res.Path(), lineNum, "%s", err.Error())
	}

	r.dropEmptyMesh()
	return nil
}

// Drop the last parsed mesh if it contains no faces.
func (r *wavefrontReader) dropEmptyMesh() {
	last := len(r.meshes) - 1
	if last >= 0 && len(r.meshes[last].Indices) == 0 {
		r.logger.Warningf(`dropping mesh "%s" as it contains no polygons`, r.meshes[last].Name)
		r.meshes = r.meshes[:last]
	}
}

// Parse a triangle or quad face and append its triangles to the current
// mesh.
func (r *wavefrontReader) parseFace(lineTokens []string, relVertexOffset, relUvOffset, relNormalOffset int) error {
	if len(lineTokens) < 4 || len(lineTokens) > 5 {
		return fmt.Errorf(`unsupported syntax for "f"; expected 3 arguments for triangular face or 4 arguments for a quad face; got %d. Select the triangulation option in your exporter`, len(lineTokens)-1)
	}

	var corners [4]uint32
	expIndices := 0
	for arg := 0; arg < len(lineTokens)-1; arg++ {
		vTokens := strings.Split(lineTokens[arg+1], "/")

		// The first arg defines the format for the following args
		if arg == 0 {
			expIndices = len(vTokens)
		} else if len(vTokens) != expIndices {
			return fmt.Errorf("expected each face argument to contain %d indices; arg %d contains %d indices", expIndices, arg, len(vTokens))
		}

		if vTokens[0] == "" {
			return fmt.Errorf("face argument %d does not include a vertex index", arg)
		}

		vOffset, err := selectFaceCoordIndex(vTokens[0], len(r.vertexList), relVertexOffset)
		if err != nil {
			return fmt.Errorf("could not parse vertex coord for face argument %d: %s", arg, err.Error())
		}
		if expIndices > 1 && vTokens[1] != "" {
			if _, err = selectFaceCoordIndex(vTokens[1], r.uvCount, relUvOffset); err != nil {
				return fmt.Errorf("could not parse tex coord for face argument %d: %s", arg, err.Error())
			}
		}
		if expIndices > 2 && vTokens[2] != "" {
			if _, err = selectFaceCoordIndex(vTokens[2], r.normalCount, relNormalOffset); err != nil {
				return fmt.Errorf("could not parse normal coord for face argument %d: %s", arg, err.Error())
			}
		}

		corners[arg] = r.localVertex(vOffset)
	}

	m := r.meshes[len(r.meshes)-1]
	m.Indices = append(m.Indices, [3]uint32{corners[0], corners[1], corners[2]})
	if len(lineTokens) == 5 {
		m.Indices = append(m.Indices, [3]uint32{corners[0], corners[2], corners[3]})
	}
	return nil
}

// Map a global vertex index to an index into the current mesh.
func (r *wavefrontReader) localVertex(global int) uint32 {
	if local, exists := r.vertexRemap[global]; exists {
		return local
	}
	m := r.meshes[len(r.meshes)-1]
	local := uint32(len(m.Vertices))
	m.Vertices = append(m.Vertices, r.vertexList[global])
	r.vertexRemap[global] = local
	return local
}

// Given an index for a face coord type (vertex, normal, tex) calculate the
// proper offset into the coord list. Negative indices reference elements
// from the end of the coord list.
func selectFaceCoordIndex(indexToken string, coordListLen int, relOffset int) (int, error) {
	index, err := strconv.ParseInt(indexToken, 10, 32)
	if err != nil {
		return -1, err
	}

	var vOffset int
	if index < 0 {
		vOffset = coordListLen + int(index)
	} else {
		vOffset = relOffset + int(index-1)
	}
	if vOffset < 0 || vOffset >= coordListLen {
		return -1, fmt.Errorf("index out of bounds")
	}
	return vOffset, nil
}

// Parse a Vec3 row.
func parseVec3(lineTokens []string) (types.Vec3, error) {
	if len(lineTokens) < 4 {
		return types.Vec3{}, fmt.Errorf(`unsupported syntax for "%s"; expected 3 arguments; got %d`, lineTokens[0], len(lineTokens)-1)
	}

	v := types.Vec3{}
	for tokIdx := 1; tokIdx <= 3; tokIdx++ {
		coord, err := strconv.ParseFloat(lineTokens[tokIdx], 32)
		if err != nil {
			return v, err
		}
		v[tokIdx-1] = float32(coord)
	}
	return v, nil
}
