// Package passbundle packages passes into signed bundles.
//
// A bundle is a zip archive whose root holds pass.json, the images of the
// pass, one <lang>.lproj directory per localization, manifest.json with the
// SHA-1 digest of every file, and a detached PKCS#7 signature of the
// manifest. Packaging runs entirely in Go; no openssl binary is needed.
//
// # Basic Usage
//
//	material, err := passbundle.LoadCertificateMaterial(p12Data, password, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	packager, err := passbundle.New(material, passbundle.Options{OutputDir: "out"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pass, err := passbundle.LoadPass("templates/coupon")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	path, err := packager.Package(ctx, pass)
//
// # Features
//
//   - Staging: pass.json, images and localizations laid out in a private directory
//   - Manifest: deterministic manifest.json over every staged file
//   - Signing: DER output directly, or through an S/MIME envelope that is unwrapped
//   - Inspection: ReadBundle and PrintBundleInfo check a produced archive
//
// Errors returned by the pipeline are *Error values; use IsKind to branch on
// the failure class, including cleanup failures combined with another error.
package passbundle
