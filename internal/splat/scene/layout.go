package scene

import "fmt"

const (
	// NominalFloatsPerRecord is the standard 3DGS row: position(3), normal(3),
	// SH DC(3), SH rest(45), opacity(1), scale(3), rotation(4).
	NominalFloatsPerRecord = 62
	// MinFloatsPerRecord is the narrowest decodable row (position only).
	MinFloatsPerRecord = 3

	floatBytes = 4
)

// Column offsets within a nominal row.
const (
	colPosition = 0
	colColor    = 6
	colOpacity  = 54
	colScale    = 55
	colRotation = 58
)

// Layout describes how the payload is split into rows.
type Layout struct {
	FloatsPerRecord int
	// Inferred is true when the payload length did not match the nominal
	// row width and the width was derived from the payload size instead.
	Inferred bool
}

// RecordBytes is the byte size of one row.
func (l Layout) RecordBytes() int { return l.FloatsPerRecord * floatBytes }

// ResolveLayout picks the row width for a payload of payloadLen bytes holding
// count records.
//
// Two branches, no trial decoding:
//   - payloadLen == count*62*4: nominal 62-float rows.
//   - otherwise: floor(payloadLen / (count*4)) floats per row, rejected when
//     fewer than MinFloatsPerRecord.
func ResolveLayout(payloadLen, count int) (Layout, error) {
	if count <= 0 {
		return Layout{}, formatErr(ErrMissingVertexCount, "")
	}
	rowStride := count * floatBytes
	if rowStride/floatBytes != count {
		return Layout{}, formatErr(ErrTruncatedPayload, fmt.Sprintf("vertex count %d overflows", count))
	}

	if payloadLen == rowStride*NominalFloatsPerRecord {
		return Layout{FloatsPerRecord: NominalFloatsPerRecord}, nil
	}

	width := payloadLen / rowStride
	if width < MinFloatsPerRecord {
		return Layout{}, formatErr(ErrUndeterminableLayout,
			fmt.Sprintf("%d bytes for %d records gives %d floats per record", payloadLen, count, width))
	}
	return Layout{FloatsPerRecord: width, Inferred: true}, nil
}

// checkPayload verifies that payloadLen covers count rows of the layout.
func checkPayload(l Layout, payloadLen, count int) error {
	if l.FloatsPerRecord < MinFloatsPerRecord {
		return formatErr(ErrUndeterminableLayout, fmt.Sprintf("%d floats per record", l.FloatsPerRecord))
	}
	need := count * l.RecordBytes()
	if need/l.RecordBytes() != count || payloadLen < need {
		return formatErr(ErrTruncatedPayload, fmt.Sprintf("need %d bytes, have %d", need, payloadLen))
	}
	return nil
}
