// Command dmagent runs and drives the device-management agent.
//
// "dmagent worker" serves the privileged command channel and "dmagent agent"
// runs the unprivileged agent with its local API. The remaining commands talk
// to a running agent over that API, or straight to the worker with "send".
package main
