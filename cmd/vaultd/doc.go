// Package main (cmd/vaultd) runs the wallet vault daemon.
//
// vaultd opens the configured stores, serves the control API and runs the
// recovery supervisor on its schedule. Several --store flags mirror every
// record across backends:
//
//	vaultd --sealing-key=$(openssl rand -hex 32) \
//	    --store=bolt:///var/lib/wallet-vault/vault.db \
//	    --store=s3://vault-backups/prod?region=eu-west-1 \
//	    --supervisor-schedule="0 3 * * *" \
//	    --ses-from=recovery@example.com
//
// The sealing key protects timelock and dead-man secrets at rest and must be
// the same on every restart, otherwise those recoveries can no longer be
// completed.
package main
