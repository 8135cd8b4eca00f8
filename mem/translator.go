package mem

import (
	"fmt"

	"github.com/go-logr/logr"
)

// Access is the kind of memory access being translated.
type Access uint8

// Access kinds.
const (
	AccessRead Access = iota
	AccessWrite
	AccessExecute
)

func (a Access) String() string {
	switch a {
	case AccessWrite:
		return "write"
	case AccessExecute:
		return "execute"
	default:
		return "read"
	}
}

// PagingMode selects the page-table format.
type PagingMode uint8

// Paging modes.
const (
	// PagingOff maps linear addresses to identical physical addresses.
	PagingOff PagingMode = iota
	// Paging32 is classic two-level 32-bit paging (4 MiB pages with PSE).
	Paging32
	// PagingPAE is three-level PAE paging (2 MiB large pages).
	PagingPAE
	// Paging4Level is IA-32e paging (1 GiB and 2 MiB large pages).
	Paging4Level
)

// Page-table entry bits.
const (
	pteP  uint64 = 1 << 0
	pteRW uint64 = 1 << 1
	pteUS uint64 = 1 << 2
	ptePS uint64 = 1 << 7
	pteNX uint64 = 1 << 63

	addrMask4K uint64 = 0x000F_FFFF_FFFF_F000
	addrMask2M uint64 = 0x000F_FFFF_FFE0_0000
	addrMask1G uint64 = 0x000F_FFFF_C000_0000
)

// #PF error code bits.
const (
	PFPresent uint32 = 1 << 0
	PFWrite   uint32 = 1 << 1
	PFUser    uint32 = 1 << 2
	PFFetch   uint32 = 1 << 4
)

// PageFault is returned when translation fails.
type PageFault struct {
	Addr      uint64 // faulting linear address (CR2)
	ErrorCode uint32
}

func (f *PageFault) Error() string {
	return fmt.Sprintf("page fault at 0x%X (error code 0x%X)", f.Addr, f.ErrorCode)
}

// Control mirrors the CR0/CR3/CR4/EFER state that governs paging.
type Control struct {
	Mode PagingMode
	CR3  uint64
	PSE  bool // CR4.PSE, 4 MiB pages in 32-bit mode
	WP   bool // CR0.WP, supervisor writes honour read-only pages
	NXE  bool // EFER.NXE
}

// PhysicalReader reads page-table entries from guest physical memory.
type PhysicalReader interface {
	Read(addr uint64, size int) (uint64, error)
}

// Translator maps guest linear addresses to guest physical addresses.
type Translator struct {
	phys    PhysicalReader
	control Control
	cpl     uint8
	tlb     *TLB
	logger  logr.Logger
}

// TranslatorOption configures a Translator.
type TranslatorOption func(*Translator)

// WithTLB sets the TLB used to cache walks.
func WithTLB(tlb *TLB) TranslatorOption {
	return func(t *Translator) {
		t.tlb = tlb
	}
}

// WithTranslatorLogger sets the logger.
func WithTranslatorLogger(logger logr.Logger) TranslatorOption {
	return func(t *Translator) {
		t.logger = logger
	}
}

// NewTranslator creates a translator with paging disabled.
func NewTranslator(phys PhysicalReader, opts ...TranslatorOption) *Translator {
	t := &Translator{
		phys:   phys,
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.tlb == nil {
		t.tlb = NewTLB(DefaultTLBConfig())
	}
	return t
}

// Control returns the current paging control state.
func (t *Translator) Control() Control {
	return t.control
}

// SetControl installs new paging control state and flushes the TLB.
func (t *Translator) SetControl(c Control) {
	t.control = c
	t.tlb.Flush()
	t.logger.V(1).Info("paging control changed", "mode", c.Mode, "cr3", c.CR3)
}

// CPL returns the current privilege level.
func (t *Translator) CPL() uint8 {
	return t.cpl
}

// SetCPL sets the privilege level used for user/supervisor checks.
func (t *Translator) SetCPL(cpl uint8) {
	t.cpl = cpl & 3
}

// TLB returns the translation cache.
func (t *Translator) TLB() *TLB {
	return t.tlb
}

// Invalidate drops the cached translation for one page (INVLPG).
func (t *Translator) Invalidate(linear uint64) {
	t.tlb.Invalidate(t.canonical(linear))
}

// Translate maps a linear address to a physical address for the given access.
func (t *Translator) Translate(linear uint64, access Access) (uint64, error) {
	if t.control.Mode == PagingOff {
		return linear, nil
	}

	linear = t.canonical(linear)

	if info, ok := t.tlb.lookup(linear); ok {
		if t.permitted(info, access) {
			return info.frame | linear&pageMask, nil
		}
		// Permission failed on a cached entry; re-walk so the fault
		// reflects current table contents.
		t.tlb.Invalidate(linear)
	}

	info, err := t.walk(linear, access)
	if err != nil {
		return 0, err
	}
	if !t.permitted(info, access) {
		return 0, t.fault(linear, access, true)
	}

	t.tlb.insert(linear, info)
	return info.frame | linear&pageMask, nil
}

func (t *Translator) canonical(linear uint64) uint64 {
	if t.control.Mode == Paging32 || t.control.Mode == PagingPAE {
		return linear & 0xFFFF_FFFF
	}
	return linear
}

func (t *Translator) permitted(info pageInfo, access Access) bool {
	user := t.cpl == 3
	if user && !info.user {
		return false
	}

	switch access {
	case AccessWrite:
		if !info.writable && (user || t.control.WP) {
			return false
		}
	case AccessExecute:
		if t.control.NXE && info.noExec {
			return false
		}
	}
	return true
}

func (t *Translator) fault(linear uint64, access Access, present bool) *PageFault {
	var code uint32
	if present {
		code |= PFPresent
	}
	switch access {
	case AccessWrite:
		code |= PFWrite
	case AccessExecute:
		code |= PFFetch
	}
	if t.cpl == 3 {
		code |= PFUser
	}
	return &PageFault{Addr: linear, ErrorCode: code}
}

// walker accumulates permissions across the levels of one walk.
type walker struct {
	t      *Translator
	linear uint64
	access Access
	info   pageInfo
}

func (w *walker) entry(addr uint64, size int) (uint64, error) {
	e, err := w.t.phys.Read(addr, size)
	if err != nil {
		return 0, fmt.Errorf("page walk for 0x%X: %w", w.linear, err)
	}
	if e&pteP == 0 {
		return 0, w.t.fault(w.linear, w.access, false)
	}
	return e, nil
}

func (w *walker) combine(e uint64) {
	w.info.writable = w.info.writable && e&pteRW != 0
	w.info.user = w.info.user && e&pteUS != 0
	w.info.noExec = w.info.noExec || e&pteNX != 0
}

// leaf records the 4 KiB frame that contains linear inside a page of the
// given base and mask.
func (w *walker) leaf(base, offsetMask uint64) pageInfo {
	w.info.frame = (base | w.linear&offsetMask) &^ pageMask
	return w.info
}

func (t *Translator) walk(linear uint64, access Access) (pageInfo, error) {
	w := &walker{
		t:      t,
		linear: linear,
		access: access,
		info:   pageInfo{writable: true, user: true},
	}

	switch t.control.Mode {
	case Paging32:
		return w.walk32()
	case PagingPAE:
		return w.walkPAE()
	default:
		return w.walk4Level()
	}
}

func (w *walker) walk32() (pageInfo, error) {
	cr3 := w.t.control.CR3

	pde, err := w.entry(cr3&0xFFFF_F000+(w.linear>>22)*4, 4)
	if err != nil {
		return pageInfo{}, err
	}
	w.combine(pde)
	if w.t.control.PSE && pde&ptePS != 0 {
		return w.leaf(pde&0xFFC0_0000, 0x003F_FFFF), nil
	}

	pte, err := w.entry(pde&0xFFFF_F000+((w.linear>>12)&0x3FF)*4, 4)
	if err != nil {
		return pageInfo{}, err
	}
	w.combine(pte)
	return w.leaf(pte&0xFFFF_F000, pageMask), nil
}

func (w *walker) walkPAE() (pageInfo, error) {
	cr3 := w.t.control.CR3

	// PDPT entries carry no RW/US/NX bits.
	pdpte, err := w.entry(cr3&0xFFFF_FFE0+(w.linear>>30)*8, 8)
	if err != nil {
		return pageInfo{}, err
	}

	pde, err := w.entry(pdpte&addrMask4K+((w.linear>>21)&0x1FF)*8, 8)
	if err != nil {
		return pageInfo{}, err
	}
	w.combine(pde)
	if pde&ptePS != 0 {
		return w.leaf(pde&addrMask2M, 0x1F_FFFF), nil
	}

	pte, err := w.entry(pde&addrMask4K+((w.linear>>12)&0x1FF)*8, 8)
	if err != nil {
		return pageInfo{}, err
	}
	w.combine(pte)
	return w.leaf(pte&addrMask4K, pageMask), nil
}

func (w *walker) walk4Level() (pageInfo, error) {
	cr3 := w.t.control.CR3

	pml4e, err := w.entry(cr3&addrMask4K+((w.linear>>39)&0x1FF)*8, 8)
	if err != nil {
		return pageInfo{}, err
	}
	w.combine(pml4e)

	pdpte, err := w.entry(pml4e&addrMask4K+((w.linear>>30)&0x1FF)*8, 8)
	if err != nil {
		return pageInfo{}, err
	}
	w.combine(pdpte)
	if pdpte&ptePS != 0 {
		return w.leaf(pdpte&addrMask1G, 0x3FFF_FFFF), nil
	}

	pde, err := w.entry(pdpte&addrMask4K+((w.linear>>21)&0x1FF)*8, 8)
	if err != nil {
		return pageInfo{}, err
	}
	w.combine(pde)
	if pde&ptePS != 0 {
		return w.leaf(pde&addrMask2M, 0x1F_FFFF), nil
	}

	pte, err := w.entry(pde&addrMask4K+((w.linear>>12)&0x1FF)*8, 8)
	if err != nil {
		return pageInfo{}, err
	}
	w.combine(pte)
	return w.leaf(pte&addrMask4K, pageMask), nil
}
