package ring

// Empty marks an unused position in an order array.
const Empty int32 = -1

// Cells is an order array: positions 0..Len()-1 hold physical slot indices
// in FIFO order, packed at the front, with Empty filling the tail.
type Cells interface {
	Len() int
	Get(i int) int32
	Set(i int, v int32)
}

// Reset fills every position with Empty.
func Reset(c Cells) {
	for i := 0; i < c.Len(); i++ {
		c.Set(i, Empty)
	}
}

// Count returns the number of occupied positions.
func Count(c Cells) int {
	n := 0
	for n < c.Len() && c.Get(n) != Empty {
		n++
	}
	return n
}

// FreeSlot returns the lowest physical slot index that does not appear in
// the order array, or -1 when every slot is in use.
func FreeSlot(c Cells) int {
	used := Count(c)
	for slot := 0; slot < c.Len(); slot++ {
		taken := false
		for i := 0; i < used; i++ {
			if c.Get(i) == int32(slot) {
				taken = true
				break
			}
		}
		if !taken {
			return slot
		}
	}
	return -1
}

// Append records slot as the newest entry. It returns false when full.
func Append(c Cells, slot int) bool {
	n := Count(c)
	if n == c.Len() {
		return false
	}
	c.Set(n, int32(slot))
	return true
}

// PopFront removes the oldest entry and shifts the rest toward the front.
func PopFront(c Cells) (int, bool) {
	if c.Len() == 0 {
		return -1, false
	}
	head := c.Get(0)
	if head == Empty {
		return -1, false
	}
	last := c.Len() - 1
	for i := 0; i < last; i++ {
		next := c.Get(i + 1)
		c.Set(i, next)
		if next == Empty {
			return int(head), true
		}
	}
	c.Set(last, Empty)
	return int(head), true
}

// Slice adapts a plain []int32 to Cells.
type Slice []int32

func (s Slice) Len() int           { return len(s) }
func (s Slice) Get(i int) int32    { return s[i] }
func (s Slice) Set(i int, v int32) { s[i] = v }
