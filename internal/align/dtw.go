package align

import "math"

// Step 是规整路径上的一个下标对。
type Step struct {
	I int // ref 下标
	J int // deg 下标
}

// 回溯方向。
const (
	fromDiag uint8 = iota
	fromRef        // 来自 (i-1, j)
	fromDeg        // 来自 (i, j-1)
)

// Path 计算 ref 与 deg 之间的最优 DTW 路径，按从起点到终点的顺序返回。
// 逐点距离为绝对差，步进集合为 {(1,1), (1,0), (0,1)}。
// 代价相等时依次优先对角、推进 ref、推进 deg。
func Path(ref, deg []float64) []Step {
	return PathBand(ref, deg, len(deg))
}

// PathBand 在 Sakoe-Chiba 带内计算 DTW 路径：第 i 行只考虑以
// round(i*(m-1)/(n-1)) 为中心、半径 radius 的列。radius >= len(deg) 时等价于 Path。
// 累计代价只保留两行，回溯方向只存带内单元。
// 调用方需保证 2*radius+1 >= ceil((m-1)/(n-1))，否则终点不可达。
func PathBand(ref, deg []float64, radius int) []Step {
	n, m := len(ref), len(deg)
	if n == 0 || m == 0 {
		return nil
	}
	if n == 1 || radius > m {
		radius = m
	}

	lo := make([]int, n)
	hi := make([]int, n)
	off := make([]int, n+1)
	for i := 0; i < n; i++ {
		c := 0
		if n > 1 {
			c = int((2*int64(i)*int64(m-1) + int64(n-1)) / (2 * int64(n-1)))
		}
		lo[i] = max(0, c-radius)
		hi[i] = min(m-1, c+radius)
		off[i+1] = off[i] + hi[i] - lo[i] + 1
	}

	dir := make([]uint8, off[n])
	prev := make([]float64, m)
	cur := make([]float64, m)
	for j := range prev {
		prev[j] = math.Inf(1)
		cur[j] = math.Inf(1)
	}

	for i := 0; i < n; i++ {
		// cur 中残留的是第 i-2 行
		if i >= 2 {
			for j := lo[i-2]; j <= hi[i-2]; j++ {
				cur[j] = math.Inf(1)
			}
		}
		for j := lo[i]; j <= hi[i]; j++ {
			d := math.Abs(ref[i] - deg[j])
			var best float64
			var from uint8
			switch {
			case i == 0 && j == 0:
				best, from = 0, fromDiag
			case i == 0:
				best, from = cur[j-1], fromDeg
			case j == 0:
				best, from = prev[j], fromRef
			default:
				best, from = prev[j-1], fromDiag
				if prev[j] < best {
					best, from = prev[j], fromRef
				}
				if cur[j-1] < best {
					best, from = cur[j-1], fromDeg
				}
			}
			cur[j] = d + best
			dir[off[i]+j-lo[i]] = from
		}
		prev, cur = cur, prev
	}

	// 从终点回溯到原点
	path := make([]Step, 0, n+m)
	i, j := n-1, m-1
	for {
		path = append(path, Step{I: i, J: j})
		if i == 0 && j == 0 {
			break
		}
		switch dir[off[i]+j-lo[i]] {
		case fromDiag:
			i, j = i-1, j-1
		case fromRef:
			i--
		case fromDeg:
			j--
		}
	}

	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}

// Cost 返回路径上逐点绝对差之和。
func Cost(ref, deg []float64, path []Step) float64 {
	var total float64
	for _, p := range path {
		total += math.Abs(ref[p.I] - deg[p.J])
	}
	return total
}
