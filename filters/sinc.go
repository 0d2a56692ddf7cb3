package filters

import (
	"math"

	"github.com/pkg/errors"
	"github.com/unixpickle/medmesh/trimesh"
	"github.com/unixpickle/model3d/model3d"
)

const (
	sincSearchSteps = 500
	sincTolerance   = 1e-3
)

// SmoothMesh applies a windowed-sinc low-pass filter to the
// vertex positions of a mesh.
//
// The filter is a Hamming-windowed Chebyshev expansion of an
// ideal low-pass response with the given pass band, one term
// per iteration. Unlike repeated Laplacian smoothing it does
// not shrink the surface.
//
// Interior vertices move toward the average of their edge
// neighbors. Boundary vertices only follow their boundary
// neighbors, and boundary corners sharper than EdgeAngle
// stay fixed. Topology is unchanged.
func (n *Native) SmoothMesh(m *trimesh.Mesh, iterations int, passBand float64) (*trimesh.Mesh, error) {
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "smooth mesh")
	}
	if iterations < 0 {
		return nil, errors.Errorf("smooth mesh: negative iteration count %d", iterations)
	}
	if !(passBand > 0 && passBand <= 2) {
		return nil, errors.Errorf("smooth mesh: pass band %v outside (0, 2]", passBand)
	}
	res := &trimesh.Mesh{
		Vertices:  append([]model3d.Coord3D{}, m.Vertices...),
		Triangles: append([][3]int{}, m.Triangles...),
	}
	if iterations == 0 || len(m.Vertices) == 0 {
		return res, nil
	}

	adj := smoothingNeighbors(m, n.edgeAngle())
	coeffs := sincCoefficients(iterations, passBand)

	// The DC gain is only approximately 1, so the filter
	// runs on coordinates relative to the centroid.
	var center model3d.Coord3D
	for _, v := range m.Vertices {
		center = center.Add(v)
	}
	center = center.Scale(1 / float64(len(m.Vertices)))

	// x0, x1 and x2 hold consecutive Chebyshev terms.
	x0 := make([]model3d.Coord3D, len(m.Vertices))
	for i, v := range m.Vertices {
		x0[i] = v.Sub(center)
	}
	x1 := make([]model3d.Coord3D, len(x0))
	x2 := make([]model3d.Coord3D, len(x0))
	out := res.Vertices

	halfStep(adj, x0, x1)
	for i := range out {
		out[i] = x0[i].Scale(coeffs[0]).Add(x1[i].Scale(coeffs[1]))
	}
	for k := 2; k <= iterations; k++ {
		halfStep(adj, x1, x2)
		for i := range x2 {
			x2[i] = x2[i].Scale(2).Sub(x0[i])
			out[i] = out[i].Add(x2[i].Scale(coeffs[k]))
		}
		x0, x1, x2 = x1, x2, x0
	}
	for i := range out {
		if len(adj[i]) == 0 {
			out[i] = m.Vertices[i]
		} else {
			out[i] = out[i].Add(center)
		}
	}
	return res, nil
}

// halfStep computes dst = (src + avg(neighbors(src))) / 2.
func halfStep(adj [][]int, src, dst []model3d.Coord3D) {
	for i, neighbors := range adj {
		if len(neighbors) == 0 {
			dst[i] = src[i]
			continue
		}
		var sum model3d.Coord3D
		for _, j := range neighbors {
			sum = sum.Add(src[j])
		}
		avg := sum.Scale(1 / float64(len(neighbors)))
		dst[i] = src[i].Add(avg).Scale(0.5)
	}
}

// sincCoefficients computes the windowed Chebyshev weights
// for iterations+1 terms.
//
// The cutoff is shifted by an offset found with Newton's
// method so that the windowed response at the pass band
// frequency is 1, which keeps low frequencies from being
// attenuated by the truncated series.
func sincCoefficients(iterations int, passBand float64) []float64 {
	thetaPB := math.Acos(1 - 0.5*passBand)
	window := make([]float64, iterations+1)
	for i := range window {
		window[i] = 0.54 + 0.46*math.Cos(float64(i)*math.Pi/float64(iterations+1))
	}

	coeffs := make([]float64, iterations+1)
	var sigma float64
	for step := 0; step < sincSearchSteps; step++ {
		theta := thetaPB + sigma
		var f, fPrime float64
		for i := range coeffs {
			var c, cPrime float64
			if i == 0 {
				c = theta / math.Pi
				cPrime = 1 / math.Pi
			} else {
				fi := float64(i)
				c = 2 * math.Sin(fi*theta) / (fi * math.Pi)
				cPrime = 2 * math.Cos(fi*theta) / math.Pi
			}
			coeffs[i] = c * window[i]

			// T_i(1 - passBand/2) = cos(i * thetaPB).
			t := math.Cos(float64(i) * thetaPB)
			f += coeffs[i] * t
			fPrime += cPrime * window[i] * t
		}
		if math.Abs(f-1) < sincTolerance || fPrime == 0 {
			break
		}
		sigma -= (f - 1) / fPrime
	}
	return coeffs
}

// smoothingNeighbors finds the vertices each vertex is
// averaged with.
//
// An edge used by exactly two triangles is interior; any
// other edge is a boundary edge. Vertices on a boundary
// only see their boundary neighbors, and are pinned if they
// do not have exactly two of them or if the boundary turns
// by more than edgeAngle degrees there.
func smoothingNeighbors(m *trimesh.Mesh, edgeAngle float64) [][]int {
	type edge [2]int
	makeEdge := func(a, b int) edge {
		if a > b {
			a, b = b, a
		}
		return edge{a, b}
	}
	edgeCounts := map[edge]int{}
	for _, t := range m.Triangles {
		for i := 0; i < 3; i++ {
			edgeCounts[makeEdge(t[i], t[(i+1)%3])]++
		}
	}

	interior := make([][]int, len(m.Vertices))
	boundary := make([][]int, len(m.Vertices))
	add := func(lists [][]int, a, b int) {
		for _, x := range lists[a] {
			if x == b {
				return
			}
		}
		lists[a] = append(lists[a], b)
	}
	for _, t := range m.Triangles {
		for i := 0; i < 3; i++ {
			a, b := t[i], t[(i+1)%3]
			if a == b {
				continue
			}
			if edgeCounts[makeEdge(a, b)] == 2 {
				add(interior, a, b)
				add(interior, b, a)
			} else {
				add(boundary, a, b)
				add(boundary, b, a)
			}
		}
	}

	cosLimit := math.Cos(edgeAngle * math.Pi / 180)
	adj := make([][]int, len(m.Vertices))
	for i := range adj {
		switch len(boundary[i]) {
		case 0:
			adj[i] = interior[i]
		case 2:
			in := m.Vertices[i].Sub(m.Vertices[boundary[i][0]])
			out := m.Vertices[boundary[i][1]].Sub(m.Vertices[i])
			if in.Norm() == 0 || out.Norm() == 0 {
				continue
			}
			if in.Normalize().Dot(out.Normalize()) >= cosLimit {
				adj[i] = boundary[i]
			}
		}
	}
	return adj
}
