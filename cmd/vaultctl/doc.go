// Package main (cmd/vaultctl) is the operator CLI for vaultd.
//
// Commands:
//
//	status, init, unlock, lock          - vault lifecycle
//	keys, create-key, export-key,
//	delete-key, audit                   - key management and audit log
//	recovery list|get|setup-*|start|
//	         submit-share|complete|
//	         cancel|sweep               - recovery setups
//	heartbeat                           - record wallet activity
//
// Example social recovery:
//
//	vaultctl recovery setup-social --wallet w1 --secret-file seed.txt \
//	    --guardian alice@example.com=Alice --guardian bob@example.com=Bob \
//	    --guardian carol@example.com=Carol --threshold 2 --shares-out shares.json
//	vaultctl recovery start --recovery <id>
//	vaultctl recovery submit-share --recovery <id> --share-file shares.json --share-id <share>
//	vaultctl recovery complete --recovery <id> --out seed.txt
package main
