package common

// PackageName is used as the default log service tag.
const PackageName = "wallet-recovery-vault"

// Version is set at build time with -ldflags "-X ...common.Version=...".
var Version = "dev"
