/*
Package recovery implements wallet secret recovery.

The Engine supports four methods:

  - SOCIAL: the secret is split into one Shamir share per guardian. A recovery
    is started, guardians submit their shares and, once threshold shares are
    collected, the secret is reconstructed.
  - TIMELOCK: the secret is sealed and released only after a fixed number of
    days.
  - DEADMAN: the secret is sealed and released once the wallet has reported
    no activity for the configured interval. Guardians are notified when the
    switch fires.
  - BACKUP: the secret is sealed under a key derived from a backup password.

Setups move from setup to active and end as recovered or expired. The
Supervisor flips time-gated setups to recovered in the background; releasing
the secret is always an explicit Complete call, after which the setup carries
CompletedAt and cannot be claimed again.

StartRecovery is rate limited per recovery id by the Throttle. Failed share
or password checks count against the same limit. CancelRecovery is never
throttled and removes every record of the recovery.

Share values are returned once, at setup, for distribution. The store keeps
only keyed digests of them, so the store alone never holds enough material to
reconstruct a secret.
*/
package recovery
