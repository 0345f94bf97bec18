// Package file stores payment proof uploads and turns their keys into URLs
// an extractor can fetch.
//
// Two backends implement Storage: LocalStorage for development, serving
// files through Handler, and S3Storage for S3 and compatible services,
// which returns presigned GET URLs valid for a configurable time.
//
// Uploads are validated by content sniffing, not by extension:
//
//	if err := file.ValidateProof(fh); err != nil {
//		return err
//	}
//	key, err := file.ProofKey(orderID.String(), fh)
//	proof, err := storage.Save(ctx, fh, key)
//
// S3 failures are classified into package errors such as ErrFileNotFound
// and ErrAccessDenied.
package file
