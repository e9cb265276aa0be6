// Package serialization reads and writes the .born checkpoint container.
//
//	Format Structure:
//	  [64 bytes: fixed header]
//	    0x00  magic "BORN"
//	    0x04  version (uint32 LE)
//	    0x08  flags (uint32 LE)
//	    0x10  JSON header size (uint64 LE)
//	    0x18  tensor data size (uint64 LE)
//	    0x20  SHA-256 of the tensor data
//	  [JSON header: tensor table and metadata]
//	  [zero padding to a 64-byte boundary]
//	  [tensor data: raw little-endian bytes, in header order]
//
// Tensors are written in sorted name order, so the same state dict always
// produces the same bytes apart from the creation time.
//
// Example usage:
//
//	if err := serialization.WriteFile("model.born", model.StateDict(), "ResNet18", meta); err != nil {
//	    return err
//	}
//
//	r, err := serialization.Open("model.born")
//	if err != nil {
//	    return err
//	}
//	state, err := r.ReadStateDict()
package serialization
