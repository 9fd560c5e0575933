package engine

import iface "ObjDetector/interface"

// FilterByConfidence keeps every detection whose confidence is strictly greater than
// threshold, in input order. The input slice is not modified.
func FilterByConfidence(dets []iface.Detection, threshold float32) []iface.Detection {
	out := make([]iface.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence > threshold {
			out = append(out, d)
		}
	}
	return out
}
