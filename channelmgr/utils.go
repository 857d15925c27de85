package channelmgr

/*
 * Dual-licensed under Apache-2.0 and MIT.
 *
 * You can get a copy of the Apache License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * You can also get a copy of the MIT License at
 *
 * http://opensource.org/licenses/MIT
 *
 * @wcgcyx - https://github.com/wcgcyx
 */

import "github.com/edgeandnode/gateway-channels/paych"

// chunkSizes splits total into groups of at most size.
func chunkSizes(total, size int) []int {
	if size <= 0 {
		size = total
	}
	if size == 0 {
		return nil
	}
	var sizes []int
	for total > 0 {
		n := size
		if n > total {
			n = total
		}
		sizes = append(sizes, n)
		total -= n
	}
	return sizes
}

// chunk splits ids into groups of at most size.
func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	if size == 0 {
		return nil
	}
	var chunks [][]string
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}

// targetCapacity resolves a capacity request against the current count.
func targetCapacity(op paych.CapacityOp, num float64, current int) (int, error) {
	switch op {
	case paych.SetTo:
		if num != float64(int(num)) || num < 0 {
			return 0, validationErrorf("SetTo requires a non-negative integer, got %v", num)
		}
		target := int(num)
		if target < current {
			return current, nil
		}
		return target, nil
	case paych.IncreaseBy:
		if num != float64(int(num)) || num < 0 {
			return 0, validationErrorf("IncreaseBy requires a non-negative integer, got %v", num)
		}
		return current + int(num), nil
	case paych.ScaleBy:
		if num < 1 {
			return 0, validationErrorf("ScaleBy requires a factor >= 1, got %v", num)
		}
		if current == 0 {
			return 0, validationErrorf("ScaleBy requires a non-zero current capacity")
		}
		return int(float64(current) * num), nil
	default:
		return 0, validationErrorf("unknown capacity op %v", op)
	}
}
