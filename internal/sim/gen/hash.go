package gen

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func Hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func ClampPermille(v int) int {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return v
}

// InCluster reports whether (x, y, z) falls inside one of the spheres
// scattered over a grid of cells; each cell holds one with probability
// probPermille/1000.
func InCluster(seed int64, x, y, z, grid, radius int, probPermille uint64) bool {
	if grid <= 0 || radius <= 0 || probPermille == 0 {
		return false
	}
	gx := FloorDiv(x, grid)
	gy := FloorDiv(y, grid)
	gz := FloorDiv(z, grid)
	r2 := radius * radius

	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				cgx, cgy, cgz := gx+dx, gy+dy, gz+dz
				h := Hash3(seed, cgx, cgy, cgz)
				if h%1000 >= probPermille {
					continue
				}

				cx := cgx*grid + int((h>>10)%uint64(grid))
				cy := cgy*grid + int((h>>20)%uint64(grid))
				cz := cgz*grid + int((h>>30)%uint64(grid))

				ddx, ddy, ddz := x-cx, y-cy, z-cz
				if ddx*ddx+ddy*ddy+ddz*ddz <= r2 {
					return true
				}
			}
		}
	}
	return false
}
