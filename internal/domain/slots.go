package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// SlotLogo names the logo asset slot; product slots are product_1..product_3.
const SlotLogo = "logo"

const productSlotPrefix = "product_"

// ProductSlot returns the slot name for the zero-based product index.
func ProductSlot(i int) string {
	return productSlotPrefix + strconv.Itoa(i+1)
}

// ParseSlot validates a slot name and returns the zero-based product index,
// or -1 for the logo.
func ParseSlot(slot string) (int, error) {
	if slot == SlotLogo {
		return -1, nil
	}
	if n, ok := strings.CutPrefix(slot, productSlotPrefix); ok {
		i, err := strconv.Atoi(n)
		if err == nil && i >= 1 && i <= MaxProducts {
			return i - 1, nil
		}
	}
	return 0, fmt.Errorf("unknown asset slot %q (want logo or product_1..product_%d)", slot, MaxProducts)
}

// Put stores an asset in the named slot, growing the product list as needed.
func (s *AssetSet) Put(slot string, a Asset) error {
	i, err := ParseSlot(slot)
	if err != nil {
		return err
	}
	if i < 0 {
		s.Logo = &a
		return nil
	}
	for len(s.Products) <= i {
		s.Products = append(s.Products, Asset{})
	}
	s.Products[i] = a
	return nil
}

// Slots lists the present assets by slot name.
func (s AssetSet) Slots() map[string]Asset {
	out := map[string]Asset{}
	if s.Logo.Present() {
		out[SlotLogo] = *s.Logo
	}
	for i := range s.Products {
		if s.Products[i].Present() {
			out[ProductSlot(i)] = s.Products[i]
		}
	}
	return out
}
