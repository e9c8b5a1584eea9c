// Package serialization stores model state dicts in the SafeTensors format.
//
//	Format Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON object, tensor name -> {dtype, shape, data_offsets}]
//	  [Tensor data: raw little-endian bytes, tensors in name order]
//
// Only F32 tensors are produced and accepted. The writer records a SHA-256
// checksum of the data section under the "checksum" metadata key; the
// reader verifies it when present.
//
// Example usage:
//
//	// Save a model
//	sd := nn.StateDict(model)
//	if err := serialization.WriteFile("resnet18.safetensors", sd, map[string]string{"model": "resnet18"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Load it into a freshly built model
//	sd, meta, err := serialization.ReadFile("resnet18.safetensors")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = nn.LoadStateDict(model, sd)
package serialization
