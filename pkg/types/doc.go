/*
Package types defines the core data model shared by all RenderLite packages.

The types package contains the entities of record (Service, Deployment,
Domain), the queue job payloads (DeploymentJob, RollbackJob), container
runtime value types (ContainerStats, ManagedContainer), and the status
enumerations with their transition rules.

# Entities

Service:
  - The deployable unit: repository URL + branch + env + subdomain
  - Status: CREATED → DEPLOYING → RUNNING | STOPPED | FAILED
  - Invariant: at any stable moment there is zero or one live container,
    and RUNNING implies a non-null ContainerID

Deployment:
  - One attempt to bring a service to a revision
  - Status: QUEUED → BUILDING → SUCCESS | FAILED (terminal rows immutable)
  - ImageTag is persisted as soon as a build succeeds so rollbacks can
    reuse the image without rebuilding

Domain:
  - Custom hostname with a verification flag; only verified domains are
    added to the container's routing labels

Job payloads:
  - DeploymentJob / RollbackJob are the immutable plans workers execute;
    secret values inside them stay encrypted until job construction in
    the worker process
*/
package types
