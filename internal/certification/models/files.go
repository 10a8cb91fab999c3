package models

// FileSlot names one piece of supporting evidence.
type FileSlot string

const (
	SlotIDFront                  FileSlot = "id_front"
	SlotIDBack                   FileSlot = "id_back"
	SlotSelfie                   FileSlot = "selfie"
	SlotTaxIDPDF                 FileSlot = "tax_id_pdf"
	SlotAppointmentPDF           FileSlot = "appointment_pdf"
	SlotAppointmentAcceptancePDF FileSlot = "appointment_acceptance_pdf"
	SlotConstitutionPDF          FileSlot = "constitution_pdf"
	SlotAuthorizationVideo       FileSlot = "authorization_video"
)

// FileSlots lists every slot in display order.
var FileSlots = []FileSlot{
	SlotIDFront,
	SlotIDBack,
	SlotSelfie,
	SlotTaxIDPDF,
	SlotAppointmentPDF,
	SlotAppointmentAcceptancePDF,
	SlotConstitutionPDF,
	SlotAuthorizationVideo,
}

// LegalRepresentativeSlots are the documents only legal representatives provide
// unconditionally.
var LegalRepresentativeSlots = []FileSlot{
	SlotTaxIDPDF,
	SlotAppointmentPDF,
	SlotAppointmentAcceptancePDF,
	SlotConstitutionPDF,
}

// IsValid reports whether s is a known slot.
func (s FileSlot) IsValid() bool {
	for _, known := range FileSlots {
		if s == known {
			return true
		}
	}
	return false
}

func (s FileSlot) String() string { return string(s) }

// FileRef is an opaque storage key. The empty ref means the slot is empty.
type FileRef string

func (r FileRef) IsEmpty() bool { return r == "" }

// Files maps slots to storage references. Absent and empty entries are
// equivalent.
type Files map[FileSlot]FileRef

// Has reports whether slot holds a reference.
func (f Files) Has(slot FileSlot) bool {
	return !f[slot].IsEmpty()
}

// Presence returns the slot -> present map consumed by the rule engine.
func (f Files) Presence() map[FileSlot]bool {
	out := make(map[FileSlot]bool, len(f))
	for slot, ref := range f {
		if !ref.IsEmpty() {
			out[slot] = true
		}
	}
	return out
}

// Clone returns an independent copy.
func (f Files) Clone() Files {
	out := make(Files, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
