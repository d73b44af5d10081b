package appointment

// Capacity reports how many slots of a schedule are open to patients.
type Capacity struct {
	Total     int `json:"total"`
	Reserved  int `json:"reserved"`
	Bookable  int `json:"bookable"`
	Booked    int `json:"booked"`
	Available int `json:"available"`
}

// CapacityOf reports on exactly the reserved set and total it is given.
// Dropping reserved numbers above a shrunken total is the editor's job
// (see ApplyCapacity).
func CapacityOf(s Schedule) Capacity {
	c := Capacity{
		Total:    s.MaxPatients,
		Reserved: len(s.ReservedSlots),
		Booked:   s.CurrentBookings,
	}
	c.Bookable = c.Total - c.Reserved
	c.Available = c.Bookable - c.Booked
	if c.Available < 0 {
		c.Available = 0
	}
	return c
}
