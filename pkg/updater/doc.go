// Updater replaces the agent's own files with a newer release fetched from a
// remote repository.
//
// A run checks the repository's version manifest against the locally
// recorded version and, when the manifest is newer, fetches every file of the
// release under a staging name next to its live file, verifies the staged
// set is complete, swaps each staged file in with an atomic rename, records
// the new version and restarts the device. Until the first swap nothing live
// is touched, so any failure before that point leaves the device exactly as
// it was.
package updater
