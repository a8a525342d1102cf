// Package gateway composes the traffic gateway: routing rules pick a
// candidate set of backends, the load balancer picks one of them and the
// request is forwarded after the rate limit rules admitted it.
//
// The gateway owns the backend registry, the load balancer, the rate limit
// manager, the router and the health checker. It is built from a
// configuration and can be reloaded with a new one while serving:
//
//	gw, err := gateway.New(cfg, gateway.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	if err := gw.Start(ctx); err != nil {
//		return err
//	}
//	defer gw.Stop(context.Background())
//
//	resp, err := gw.Handle(ctx, req)
package gateway
